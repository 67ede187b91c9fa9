package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JawadKotaichh/AUBus-sub000/pkg/common"
)

// ---------------------------------------------------------------------------
// Reportable
// ---------------------------------------------------------------------------

func TestReportable_NilError(t *testing.T) {
	assert.False(t, Reportable(nil))
}

func TestReportable_ClientOutcomesStayLocal(t *testing.T) {
	for _, err := range []error{
		common.NewInvalidPayloadError("bad coordinates", nil),
		common.NewNotFoundError("request 12 not found", nil),
		common.NewInvalidStateError("request already canceled"),
		common.NewStaleAssignmentError("offer reassigned"),
		common.NewRequestInFlightError("rider has an open request"),
		common.NewNoDriversError("no drivers online"),
		common.NewAuthRequiredError("unknown driver"),
	} {
		assert.False(t, Reportable(err), "kind %s should not alert", common.KindOf(err))
	}
}

func TestReportable_InfrastructureFailuresAlert(t *testing.T) {
	for _, err := range []error{
		common.NewInternalError("tx commit failed", errors.New("conn reset")),
		common.NewMapUnavailableError("route provider down", nil),
		common.NewSelectorFailedError("candidate query failed", nil),
	} {
		assert.True(t, Reportable(err), "kind %s should alert", common.KindOf(err))
	}
}

func TestReportable_WrappedErrorKeepsKind(t *testing.T) {
	inner := common.NewInvalidPayloadError("rating out of range", nil)
	wrapped := fmt.Errorf("rate driver: %w", inner)
	assert.False(t, Reportable(wrapped))
}

func TestReportable_PlainErrorTreatedAsInternal(t *testing.T) {
	assert.True(t, Reportable(errors.New("something broke")))
}

// ---------------------------------------------------------------------------
// DefaultSentryConfig
// ---------------------------------------------------------------------------

func TestDefaultSentryConfig_Defaults(t *testing.T) {
	t.Setenv("SENTRY_DSN", "")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("SENTRY_ENVIRONMENT", "")
	t.Setenv("SENTRY_SAMPLE_RATE", "")

	cfg := DefaultSentryConfig()
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 1.0, cfg.SampleRate)
	assert.True(t, cfg.AttachStacktrace)
}

func TestDefaultSentryConfig_EnvironmentPrecedence(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("SENTRY_ENVIRONMENT", "staging")

	cfg := DefaultSentryConfig()
	assert.Equal(t, "production", cfg.Environment)
}

func TestDefaultSentryConfig_SampleRate(t *testing.T) {
	t.Setenv("SENTRY_SAMPLE_RATE", "0.25")
	cfg := DefaultSentryConfig()
	assert.Equal(t, 0.25, cfg.SampleRate)

	t.Setenv("SENTRY_SAMPLE_RATE", "not-a-number")
	cfg = DefaultSentryConfig()
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitSentry_RequiresDSN(t *testing.T) {
	err := InitSentry(&SentryConfig{})
	assert.Error(t, err)
}
