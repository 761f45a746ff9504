package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCampaignStatusTransitions(t *testing.T) {
	allowed := []struct {
		from, to CampaignStatus
	}{
		{CampaignDraft, CampaignProcessing},
		{CampaignDraft, CampaignFailed},
		{CampaignScheduled, CampaignProcessing},
		{CampaignScheduled, CampaignFailed},
		{CampaignProcessing, CampaignPaused},
		{CampaignProcessing, CampaignCancelled},
		{CampaignProcessing, CampaignCompleted},
		{CampaignProcessing, CampaignFailed},
		{CampaignPaused, CampaignProcessing},
		{CampaignPaused, CampaignCancelled},
	}
	for _, tc := range allowed {
		assert.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct {
		from, to CampaignStatus
	}{
		{CampaignDraft, CampaignPaused},
		{CampaignDraft, CampaignCompleted},
		{CampaignDraft, CampaignCancelled},
		{CampaignScheduled, CampaignPaused},
		{CampaignProcessing, CampaignDraft},
		{CampaignPaused, CampaignCompleted},
		{CampaignPaused, CampaignFailed},
		{CampaignCompleted, CampaignProcessing},
		{CampaignCancelled, CampaignProcessing},
		{CampaignFailed, CampaignProcessing},
	}
	for _, tc := range denied {
		assert.False(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestCampaignStatusTerminalNeverTransitions(t *testing.T) {
	all := []CampaignStatus{
		CampaignDraft, CampaignScheduled, CampaignProcessing, CampaignPaused,
		CampaignCancelled, CampaignCompleted, CampaignFailed,
	}
	for _, s := range all {
		if !s.Terminal() {
			continue
		}
		for _, next := range all {
			assert.False(t, s.CanTransitionTo(next), "%s is terminal, %s -> %s must be denied", s, s, next)
		}
	}
}

func TestParseCampaignStatus(t *testing.T) {
	s, ok := ParseCampaignStatus("  Processing ")
	assert.True(t, ok)
	assert.Equal(t, CampaignProcessing, s)

	_, ok = ParseCampaignStatus("")
	assert.False(t, ok)

	_, ok = ParseCampaignStatus("archived")
	assert.False(t, ok)
}

func TestJobStatusTerminal(t *testing.T) {
	assert.True(t, JobSent.Terminal())
	assert.True(t, JobCancelled.Terminal())
	assert.True(t, JobFailed.Terminal())
	assert.False(t, JobPending.Terminal())
	assert.False(t, JobProcessing.Terminal())
	assert.False(t, JobPaused.Terminal())
}

func TestFilterRoundTripsThroughJSONColumn(t *testing.T) {
	f := Filter{
		StageIDs:   []string{"lead"},
		TagIDs:     []string{"vip", "newsletter"},
		Attributes: map[string]string{"plan": "gold"},
	}

	v, err := f.Value()
	assert.NoError(t, err)

	var got Filter
	assert.NoError(t, got.Scan(v))
	assert.Equal(t, f, got)

	var empty Filter
	assert.NoError(t, empty.Scan(nil))
	assert.Equal(t, Filter{}, empty)
}

func TestStringListValueIsNeverNull(t *testing.T) {
	var l StringList
	v, err := l.Value()
	assert.NoError(t, err)
	assert.Equal(t, "[]", v)
}
