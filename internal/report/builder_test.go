package report

import (
	"testing"
	"time"

	"cvewatch/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fp(f float64) *float64 { return &f }

func testProject() *model.Project {
	return &model.Project{
		Organization:  "acme",
		Name:          "backend",
		Subscriptions: []string{"apache", "nginx", "microsoft$PRODUCT$windows_server"},
	}
}

func webhookConfig(t *testing.T, mutate func(*model.NotificationConfig)) *model.NotificationConfig {
	t.Helper()
	n := &model.NotificationConfig{
		Name:    "alerts",
		Type:    model.ChannelWebhook,
		Enabled: true,
		Webhook: model.WebhookExtras{URL: "https://example.com/webhook"},
	}
	if mutate != nil {
		mutate(n)
	}
	require.NoError(t, n.Validate())
	return n
}

func testPeriod() model.Period {
	start := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)
	return model.Period{Start: start, End: start.Add(time.Hour)}
}

func metricsRecord(cveID string, score *float64, tokens ...string) MatchedRecord {
	return MatchedRecord{
		Record:        &model.CanonicalRecord{CVEID: cveID, Score: score, Vendors: tokens},
		MatchedTokens: tokens,
		Events:        []model.ChangeEvent{{CVEID: cveID, Type: model.EventMetrics, Data: model.MetricsData{New: score}}},
	}
}

func TestBuild_SingleMatch(t *testing.T) {
	rep := Build(testProject(), webhookConfig(t, nil), testPeriod(), []MatchedRecord{
		metricsRecord("CVE-2024-0001", fp(9.8), "apache"),
	})

	require.NotNil(t, rep)
	assert.Equal(t, "acme", rep.Organization)
	assert.Equal(t, "backend", rep.Project)
	assert.Equal(t, "alerts", rep.Notification)
	assert.Equal(t, "1 change on Apache", rep.Title)
	assert.Equal(t, []string{"apache"}, rep.MatchedSubscriptions.Raw)
	assert.Equal(t, []string{"apache", "microsoft$PRODUCT$windows_server", "nginx"}, rep.Subscriptions.Raw)
	require.Len(t, rep.Changes, 1)
	assert.Equal(t, "CVE-2024-0001", rep.Changes[0].CVE.CVEID)
}

func TestBuild_EventTypeFilter(t *testing.T) {
	n := webhookConfig(t, func(n *model.NotificationConfig) {
		n.EventTypes = []model.EventType{model.EventReferences}
	})

	// Only a metrics event: the record has nothing left, so no report at all.
	rep := Build(testProject(), n, testPeriod(), []MatchedRecord{
		metricsRecord("CVE-2024-0001", fp(9.8), "apache"),
	})
	assert.Nil(t, rep)

	// Mixed events: only references survives.
	mr := metricsRecord("CVE-2024-0001", fp(9.8), "apache")
	mr.Events = append(mr.Events, model.ChangeEvent{
		CVEID: "CVE-2024-0001", Type: model.EventReferences, Data: model.ReferencesData{Added: []string{"https://a"}},
	})
	rep = Build(testProject(), n, testPeriod(), []MatchedRecord{mr})
	require.NotNil(t, rep)
	require.Len(t, rep.Changes, 1)
	require.Len(t, rep.Changes[0].Events, 1)
	assert.Equal(t, model.EventReferences, rep.Changes[0].Events[0].Type)
}

func TestBuild_ScoreFilter(t *testing.T) {
	n := webhookConfig(t, func(n *model.NotificationConfig) { n.Score = "7.0" })

	rep := Build(testProject(), n, testPeriod(), []MatchedRecord{
		metricsRecord("CVE-2024-0001", fp(9.8), "apache"),
		metricsRecord("CVE-2024-0002", fp(5.0), "nginx"),
		metricsRecord("CVE-2024-0003", nil, "nginx"),
	})

	require.NotNil(t, rep)
	require.Len(t, rep.Changes, 1, "below-threshold and null scores are dropped")
	assert.Equal(t, "CVE-2024-0001", rep.Changes[0].CVE.CVEID)
}

func TestBuild_NullScorePassesWithoutFilter(t *testing.T) {
	rep := Build(testProject(), webhookConfig(t, nil), testPeriod(), []MatchedRecord{
		metricsRecord("CVE-2024-0003", nil, "nginx"),
	})
	require.NotNil(t, rep)
	require.Len(t, rep.Changes, 1)
	assert.Nil(t, rep.Changes[0].CVE.CVSS31)
}

func TestBuild_TitleAggregation(t *testing.T) {
	rep := Build(testProject(), webhookConfig(t, nil), testPeriod(), []MatchedRecord{
		metricsRecord("CVE-2024-0001", fp(9.8), "nginx"),
		metricsRecord("CVE-2024-0002", fp(7.5), "apache", "nginx"),
		metricsRecord("CVE-2024-0003", fp(6.0), "apache"),
	})
	require.NotNil(t, rep)
	assert.Equal(t, "3 changes on Apache, Nginx", rep.Title, "deduplicated, alphabetical")
	assert.Equal(t, "CVE-2024-0001", rep.Changes[0].CVE.CVEID, "changes sorted by identifier")
}

func TestBuild_EmptyInputNoReport(t *testing.T) {
	assert.Nil(t, Build(testProject(), webhookConfig(t, nil), testPeriod(), nil))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "1 change on Apache", Title(1, []string{"Apache"}))
	assert.Equal(t, "3 changes on Linux, Openssl", Title(3, []string{"Linux", "Openssl"}))
}
