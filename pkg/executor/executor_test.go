package executor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sirgallo/cmdcore/pkg/blacklist"
	"github.com/sirgallo/cmdcore/pkg/clock"
	"github.com/sirgallo/cmdcore/pkg/command"
	"github.com/sirgallo/cmdcore/pkg/db"
	"github.com/sirgallo/cmdcore/pkg/roleoracle"
)

func newTestCommand(t *testing.T, methodLine, userID string) *command.Command {
	t.Helper()
	clk := clock.NewFixedClock(1_000_000)
	req := map[string]string{}
	if userID != "" {
		req[command.HeaderUserID] = userID
	}
	return command.NewCommand("test-1", methodLine, req, clk)
}

// echoHandler completes fully in Peek and never touches Process.
type echoHandler struct {
	calls int
}

func (h *echoHandler) Peek(cmd *command.Command) bool {
	h.calls++
	cmd.Response = command.NewResponse(200, "OK")
	cmd.Response.Body = "echo"
	return true
}

func (h *echoHandler) Process(cmd *command.Command, tx db.Transaction) bool {
	throwHandlerError(500, "echoHandler never reaches Process")
	return false
}

// incompleteHandler always requires Process.
type incompleteHandler struct{}

func (incompleteHandler) Peek(cmd *command.Command) bool { return false }

func (incompleteHandler) Process(cmd *command.Command, tx db.Transaction) bool {
	cmd.Response = command.NewResponse(200, "Processed")
	return true
}

// erroringHandler bails out of Peek via throwHandlerError.
type erroringHandler struct{}

func (erroringHandler) Peek(cmd *command.Command) bool {
	throwHandlerError(422, "bad request")
	return false
}

func (erroringHandler) Process(cmd *command.Command, tx db.Transaction) bool {
	return false
}

func TestPeekCommandBlacklistedShortCircuits(t *testing.T) {
	bl := blacklist.New()
	bl.Record("dieinpeek", "31")

	oracle := roleoracle.NewStateOracle("node1", roleoracle.Mastering)
	registry := NewHandlerRegistry()
	h := &echoHandler{}
	registry.Register("dieinpeek", h)

	exec := NewExecutor(registry, bl, oracle)
	cmd := newTestCommand(t, "dieinpeek", "31")

	complete, err := exec.PeekCommand(cmd)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, 500, cmd.Response.Code)
	require.Equal(t, "Blacklisted", cmd.Response.Reason)
	require.Equal(t, 0, h.calls, "blacklisted command must never reach the handler")
}

func TestPeekCommandNoHandlerReturns404(t *testing.T) {
	bl := blacklist.New()
	oracle := roleoracle.NewStateOracle("node1", roleoracle.Mastering)
	registry := NewHandlerRegistry()

	exec := NewExecutor(registry, bl, oracle)
	cmd := newTestCommand(t, "Unregistered", "")

	complete, err := exec.PeekCommand(cmd)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, 404, cmd.Response.Code)
}

func TestPeekCommandFallbackHandlerUsedWhenUnregistered(t *testing.T) {
	bl := blacklist.New()
	oracle := roleoracle.NewStateOracle("node1", roleoracle.Mastering)
	registry := NewHandlerRegistry()
	fallback := &echoHandler{}
	registry.SetFallback(fallback)

	exec := NewExecutor(registry, bl, oracle)
	cmd := newTestCommand(t, "AnythingElse", "")

	complete, err := exec.PeekCommand(cmd)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, 1, fallback.calls)
}

func TestPeekCommandIsIdempotent(t *testing.T) {
	bl := blacklist.New()
	oracle := roleoracle.NewStateOracle("node1", roleoracle.Mastering)
	registry := NewHandlerRegistry()
	h := &echoHandler{}
	registry.Register("Echo", h)

	exec := NewExecutor(registry, bl, oracle)
	cmd := newTestCommand(t, "Echo", "")

	complete1, err1 := exec.PeekCommand(cmd)
	require.NoError(t, err1)
	require.True(t, complete1)
	firstBody := cmd.Response.Body

	complete2, err2 := exec.PeekCommand(cmd)
	require.NoError(t, err2)
	require.True(t, complete2)

	require.Equal(t, firstBody, cmd.Response.Body)
	require.Equal(t, 2, h.calls, "PeekCommand may be called repeatedly with the same observable result")
}

func TestPeekCommandHandlerErrorBecomesResponse(t *testing.T) {
	bl := blacklist.New()
	oracle := roleoracle.NewStateOracle("node1", roleoracle.Mastering)
	registry := NewHandlerRegistry()
	registry.Register("Bad", erroringHandler{})

	exec := NewExecutor(registry, bl, oracle)
	cmd := newTestCommand(t, "Bad", "1")

	complete, err := exec.PeekCommand(cmd)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, 422, cmd.Response.Code)
	require.Equal(t, "bad request", cmd.Response.Reason)
	require.False(t, bl.IsBlacklisted("Bad", "1"), "an ordinary handlerError must not blacklist the command")
}

func TestPeekCommandIncompleteRequiresProcess(t *testing.T) {
	bl := blacklist.New()
	oracle := roleoracle.NewStateOracle("node1", roleoracle.Mastering)
	registry := NewHandlerRegistry()
	registry.Register("Set", incompleteHandler{})

	exec := NewExecutor(registry, bl, oracle)
	cmd := newTestCommand(t, "Set", "1")

	complete, err := exec.PeekCommand(cmd)
	require.NoError(t, err)
	require.False(t, complete)
}

func TestPeekCommandCrashSignalPropagatesAndBlacklists(t *testing.T) {
	bl := blacklist.New()
	oracle := roleoracle.NewStateOracle("node1", roleoracle.Mastering)
	registry := NewHandlerRegistry()
	registry.Register("dieinpeek", DieInPeekHandler{})

	exec := NewExecutor(registry, bl, oracle)
	cmd := newTestCommand(t, "dieinpeek", "31")

	require.False(t, bl.IsBlacklisted("dieinpeek", "31"))

	defer func() {
		r := recover()
		require.NotNil(t, r, "crashSignal panic must propagate out of PeekCommand uncaught")
		_, ok := r.(crashSignal)
		require.True(t, ok, "expected the panic value to be a crashSignal, got %T", r)
		require.True(t, bl.IsBlacklisted("dieinpeek", "31"), "the sighting must be recorded before the panic keeps propagating")
	}()

	exec.PeekCommand(cmd)
	t.Fatal("expected PeekCommand to panic")
}

func TestProcessCommandRequiresPrimary(t *testing.T) {
	bl := blacklist.New()
	oracle := roleoracle.NewStateOracle("node1", roleoracle.Slaving)
	registry := NewHandlerRegistry()
	registry.Register("Set", incompleteHandler{})

	exec := NewExecutor(registry, bl, oracle)
	cmd := newTestCommand(t, "Set", "")

	_, err := exec.ProcessCommand(cmd, nil)
	require.Error(t, err)
}

func TestProcessCommandBlacklistedShortCircuits(t *testing.T) {
	bl := blacklist.New()
	bl.Record("Set", "31")

	oracle := roleoracle.NewStateOracle("node1", roleoracle.Mastering)
	registry := NewHandlerRegistry()
	registry.Register("Set", incompleteHandler{})

	exec := NewExecutor(registry, bl, oracle)
	cmd := newTestCommand(t, "Set", "31")

	modified, err := exec.ProcessCommand(cmd, nil)
	require.NoError(t, err)
	require.False(t, modified)
	require.Equal(t, 500, cmd.Response.Code)
}

func TestProcessCommandCrashSignalPropagatesAndBlacklists(t *testing.T) {
	bl := blacklist.New()
	oracle := roleoracle.NewStateOracle("node1", roleoracle.Mastering)
	registry := NewHandlerRegistry()
	registry.Register("dieinprocess", DieInProcessHandler{})

	exec := NewExecutor(registry, bl, oracle)
	cmd := newTestCommand(t, "dieinprocess", "31")

	defer func() {
		r := recover()
		require.NotNil(t, r)
		_, ok := r.(crashSignal)
		require.True(t, ok, "expected the panic value to be a crashSignal, got %T", r)
		require.True(t, bl.IsBlacklisted("dieinprocess", "31"))
	}()

	exec.ProcessCommand(cmd, nil)
	t.Fatal("expected ProcessCommand to panic")
}

func TestKeyIdentityAcrossExecutorCalls(t *testing.T) {
	bl := blacklist.New()
	bl.Record("dieinpeek", "31")

	oracle := roleoracle.NewStateOracle("node1", roleoracle.Mastering)
	registry := NewHandlerRegistry()
	h := &echoHandler{}
	registry.Register("dieinpeek", h)

	exec := NewExecutor(registry, bl, oracle)
	cmd := newTestCommand(t, "dieinpeek", "33")

	complete, err := exec.PeekCommand(cmd)
	require.NoError(t, err)
	require.True(t, complete)
	require.Equal(t, 200, cmd.Response.Code, "a different userID for the same methodLine must not be blacklisted")
	require.Equal(t, 1, h.calls)
}

// upgradingHandler implements the optional Upgrader interface.
type upgradingHandler struct {
	upgraded bool
}

func (h *upgradingHandler) Peek(cmd *command.Command) bool               { return true }
func (h *upgradingHandler) Process(cmd *command.Command, tx db.Transaction) bool { return false }
func (h *upgradingHandler) Upgrade(tx db.Transaction) error {
	h.upgraded = true
	return nil
}

func TestUpgradeDatabaseCallsUpgraderHandlers(t *testing.T) {
	bl := blacklist.New()
	oracle := roleoracle.NewStateOracle("node1", roleoracle.Mastering)
	registry := NewHandlerRegistry()

	upgrader := &upgradingHandler{}
	plain := &echoHandler{}
	registry.Register("Upgradeable", upgrader)
	registry.Register("Plain", plain)

	exec := NewExecutor(registry, bl, oracle)

	err := exec.UpgradeDatabase(nil)
	require.NoError(t, err)
	require.True(t, upgrader.upgraded, "handlers implementing Upgrader must have Upgrade called")
}
