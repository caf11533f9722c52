package tosbft

import "time"

// Config enumerates the core's recognized options (section 6).
type Config struct {
	// SessionId scopes signatures and units to a protocol epoch.
	SessionId SessionId
	// NodeCount is the total number of participants N.
	NodeCount NodeCount
	// MaxRound is the upper bound for admitted rounds.
	MaxRound Round
	// InitialUnitCollection toggles the crash-recovery round-discovery
	// protocol on (StartingRoundProvider supplied by the embedder)
	// versus trivial-start (always round 0).
	InitialUnitCollection bool
	// MaxAlertedUnits bounds legit_units at alert-verification time; 0
	// means unbounded. See SPEC_FULL.md's open-question decision.
	MaxAlertedUnits int
	// StatusTickInterval is how often Runway emits a status summary.
	StatusTickInterval time.Duration
}

// DefaultStatusTickInterval matches the 10-second constant the
// protocol this core was distilled from uses for its status ticker.
const DefaultStatusTickInterval = 10 * time.Second

// StatusTickIntervalOrDefault returns c.StatusTickInterval, falling back
// to the 10-second default when unset.
func (c Config) StatusTickIntervalOrDefault() time.Duration {
	if c.StatusTickInterval <= 0 {
		return DefaultStatusTickInterval
	}
	return c.StatusTickInterval
}

// DefaultConfig returns a Config with every documented zero-value
// default filled in except NodeCount and SessionId, which callers must
// set explicitly.
func DefaultConfig() Config {
	return Config{
		MaxRound:           ^Round(0),
		MaxAlertedUnits:    0,
		StatusTickInterval: DefaultStatusTickInterval,
	}
}
