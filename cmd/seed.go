package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/engagekit/campaign-engine/internal/config"
	"github.com/engagekit/campaign-engine/internal/db"
	"github.com/engagekit/campaign-engine/internal/model"
	"github.com/engagekit/campaign-engine/internal/util"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo organizations, channels and customers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo data...")

		orgID, err := seedOrganization(sqlDB)
		if err != nil {
			return err
		}
		if err := seedChannels(sqlDB, orgID); err != nil {
			return err
		}
		if err := seedCustomers(sqlDB, orgID); err != nil {
			return err
		}

		log.Println(">> Seed completed ✅")
		return nil
	},
}

// seedOrganization upserts one demo organization keyed by its api_key
// (UNIQUE) and returns its id.
func seedOrganization(dbx *sqlx.DB) (int64, error) {
	const apiKey = "11111111111111111111111111111111"
	const q = `
INSERT INTO organizations
    (name, api_key, status, rate_limit_rps, created_at, updated_at)
VALUES
    (?, ?, 'active', ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name       = VALUES(name),
    status     = VALUES(status),
    updated_at = VALUES(updated_at)
`
	now := time.Now()
	if _, err := dbx.Exec(q, "Acme Corp", apiKey, 20, now, now); err != nil {
		return 0, fmt.Errorf("insert organization: %w", err)
	}

	var id int64
	if err := dbx.Get(&id, `SELECT id FROM organizations WHERE api_key = ?`, apiKey); err != nil {
		return 0, fmt.Errorf("lookup organization: %w", err)
	}
	return id, nil
}

// seedChannels ensures the demo organization has one active channel per
// kind. Re-running keeps the existing rows.
func seedChannels(dbx *sqlx.DB, orgID int64) error {
	const q = `
INSERT INTO channels (id, organization_id, kind, name, status, created_at, updated_at)
SELECT ?, ?, ?, ?, 'active', NOW(), NOW()
FROM DUAL
WHERE NOT EXISTS (
    SELECT 1 FROM channels WHERE organization_id = ? AND kind = ?
)
`
	for _, kind := range model.Kinds() {
		name := "Demo " + kind.String()
		if _, err := dbx.Exec(q, util.New(), orgID, kind.String(), name, orgID, kind.String()); err != nil {
			return fmt.Errorf("insert channel %s: %w", kind, err)
		}
	}
	return nil
}

// seedCustomers inserts deterministic demo customers (idempotent on
// phone within the organization).
func seedCustomers(dbx *sqlx.DB, orgID int64) error {
	customers := []model.Customer{
		{
			Name:       "Ada Lovelace",
			Phone:      "+15550000001",
			Email:      "ada@example.com",
			StageID:    "lead",
			TagIDs:     model.StringList{"vip"},
			Attributes: model.Attributes{"plan": "gold"},
		},
		{
			Name:       "Grace Hopper",
			Phone:      "+15550000002",
			Email:      "grace@example.com",
			StageID:    "customer",
			TagIDs:     model.StringList{"vip", "newsletter"},
			Attributes: model.Attributes{"plan": "gold"},
		},
		{
			Name:       "Alan Turing",
			Phone:      "+15550000003",
			Email:      "",
			StageID:    "lead",
			TagIDs:     model.StringList{},
			Attributes: model.Attributes{"plan": "free"},
		},
		{
			Name:       "Margaret Hamilton",
			Phone:      "",
			Email:      "margaret@example.com",
			StageID:    "customer",
			TagIDs:     model.StringList{"newsletter"},
			Attributes: model.Attributes{},
		},
		{
			Name:       "Katherine Johnson",
			Phone:      "+15550000005",
			Email:      "katherine@example.com",
			StageID:    "churned",
			TagIDs:     model.StringList{},
			Attributes: model.Attributes{"plan": "free"},
		},
	}

	const q = `
INSERT INTO customers
    (organization_id, name, phone, email, stage_id, tag_ids, attributes, status, created_at, updated_at)
SELECT ?, ?, ?, ?, ?, ?, ?, 'active', ?, ?
FROM DUAL
WHERE NOT EXISTS (
    SELECT 1 FROM customers WHERE organization_id = ? AND name = ?
)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, c := range customers {
		if _, err := tx.Exec(q, orgID, c.Name, c.Phone, c.Email, c.StageID,
			c.TagIDs, c.Attributes, now, now, orgID, c.Name); err != nil {
			return fmt.Errorf("insert customer %q: %w", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit customers: %w", err)
	}
	return nil
}
