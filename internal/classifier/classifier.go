package classifier

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quipgate/quipgate/internal/quiplet"
)

// BlockStore persists principal blocks so multiple gateway instances agree.
type BlockStore interface {
	IsPrincipalBlocked(ctx context.Context, principal string) (bool, error)
	BlockPrincipal(ctx context.Context, principal string, expires time.Time, reason string) error
}

// Config tunes the behavioral classifier.
type Config struct {
	// FailOpen admits traffic when no artifact is loaded. Default is
	// fail-closed.
	FailOpen               bool
	BlockThreshold         int
	PrincipalBlockDuration time.Duration
	Whitelist              []string
	AdminThreshold         float64
	StaffThreshold         float64
	AnalystThreshold       float64
}

// Classifier decides whether a query is consistent with its principal's
// learned behavior. Infraction counters live in-process; blocks are persisted
// through the BlockStore so they survive restarts.
type Classifier struct {
	schema    *quiplet.Schema
	blocks    BlockStore
	config    Config
	logger    *zap.Logger
	whitelist map[string]struct{}

	mu          sync.Mutex
	artifact    *Artifact
	infractions map[string]int
}

// New builds a classifier. artifact may be nil when loading failed; each
// Classify call then applies the configured fail-open/fail-closed policy.
func New(artifact *Artifact, schema *quiplet.Schema, blocks BlockStore, config Config, logger *zap.Logger) (*Classifier, error) {
	if artifact != nil && artifact.Dimension != schema.Dimension() {
		return nil, fmt.Errorf("artifact dimension %d does not match schema dimension %d",
			artifact.Dimension, schema.Dimension())
	}

	wl := make(map[string]struct{}, len(config.Whitelist))
	for _, entry := range config.Whitelist {
		wl[normalizeWhitelist(entry)] = struct{}{}
	}

	return &Classifier{
		schema:      schema,
		blocks:      blocks,
		config:      config,
		logger:      logger,
		whitelist:   wl,
		artifact:    artifact,
		infractions: make(map[string]int),
	}, nil
}

// Classify runs the full behavioral check for one (query, principal) pair.
// Returns ErrUnknownPrincipal when the principal was never trained and
// ErrArtifactUnavailable when no model is loaded and fail-open is off.
func (c *Classifier) Classify(ctx context.Context, query, principal string, role Role) (*Verdict, error) {
	blocked, err := c.blocks.IsPrincipalBlocked(ctx, principal)
	if err != nil {
		return nil, fmt.Errorf("block check failed: %w", err)
	}
	if blocked {
		return &Verdict{
			Decision: Blocked,
			Role:     role.String(),
			Reason:   "principal under active block",
		}, nil
	}

	if _, ok := c.whitelist[normalizeWhitelist(query)]; ok {
		return &Verdict{
			Decision:    Allowed,
			Role:        role.String(),
			Whitelisted: true,
			Confidence:  1.0,
		}, nil
	}

	artifact := c.currentArtifact()
	if artifact == nil {
		if c.config.FailOpen {
			c.logger.Warn("No classifier artifact loaded, admitting per fail-open policy",
				zap.String("principal", principal))
			return &Verdict{
				Decision: Allowed,
				Role:     role.String(),
				Reason:   "fail-open: no artifact",
			}, nil
		}
		return nil, ErrArtifactUnavailable
	}

	vector, err := quiplet.Encode(query, c.schema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}

	predicted := artifact.predict(vector.Flatten())
	historical := artifact.ClustersFor(principal)
	if len(historical) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPrincipal, principal)
	}

	allowed := artifact.AllowedFor(predicted)
	matchCount := 0
	for _, h := range historical {
		if containsInt(allowed, h) {
			matchCount++
		}
	}
	confidence := float64(matchCount) / float64(len(historical))
	threshold := c.thresholdFor(role)

	verdict := &Verdict{
		Cluster:    predicted,
		Confidence: confidence,
		Threshold:  threshold,
		Role:       role.String(),
	}

	if matchCount > 0 && confidence >= threshold {
		verdict.Decision = Allowed
		c.resetInfractions(principal)
		return verdict, nil
	}

	count := c.recordInfraction(principal)
	verdict.Infractions = count
	if count >= c.config.BlockThreshold {
		expires := time.Now().Add(c.config.PrincipalBlockDuration)
		reason := fmt.Sprintf("behavioral deviations reached threshold %d", c.config.BlockThreshold)
		if err := c.blocks.BlockPrincipal(ctx, principal, expires, reason); err != nil {
			return nil, fmt.Errorf("failed to persist principal block: %w", err)
		}
		c.resetInfractions(principal)
		verdict.Decision = Blocked
		verdict.BlockedUntil = expires
		verdict.Reason = reason
		return verdict, nil
	}

	verdict.Decision = Intrusion
	verdict.Reason = "query deviates from learned behavior"
	c.logger.Warn("Behavioral deviation",
		zap.String("principal", principal),
		zap.Int("cluster", predicted),
		zap.Float64("confidence", confidence),
		zap.Float64("threshold", threshold),
		zap.Int("infractions", count))
	return verdict, nil
}

// ReplaceArtifact swaps in a newly trained artifact without restart.
func (c *Classifier) ReplaceArtifact(artifact *Artifact) error {
	if artifact.Dimension != c.schema.Dimension() {
		return fmt.Errorf("artifact dimension %d does not match schema dimension %d",
			artifact.Dimension, c.schema.Dimension())
	}
	c.mu.Lock()
	c.artifact = artifact
	c.infractions = make(map[string]int)
	c.mu.Unlock()
	c.logger.Info("Classifier artifact replaced",
		zap.Time("trained_at", artifact.TrainedAt),
		zap.Int("classes", len(artifact.Classes)))
	return nil
}

// Artifact returns the currently loaded artifact, or nil.
func (c *Classifier) Artifact() *Artifact {
	return c.currentArtifact()
}

// Infractions reports the in-process deviation count for a principal.
func (c *Classifier) Infractions(principal string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infractions[principal]
}

// thresholdFor resolves the confidence bar for a role. Higher-privilege
// roles get higher bars: an admin acting unusually is more dangerous than an
// analyst doing the same. Unknown roles get the admin bar.
func (c *Classifier) thresholdFor(role Role) float64 {
	switch role {
	case RoleAdmin:
		return c.config.AdminThreshold
	case RoleStaff:
		return c.config.StaffThreshold
	case RoleAnalyst:
		return c.config.AnalystThreshold
	default:
		return c.config.AdminThreshold
	}
}

func (c *Classifier) currentArtifact() *Artifact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.artifact
}

func (c *Classifier) recordInfraction(principal string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infractions[principal]++
	return c.infractions[principal]
}

func (c *Classifier) resetInfractions(principal string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.infractions, principal)
}

// normalizeWhitelist folds a statement to the form whitelist entries are
// compared in: trimmed, uppercased, trailing semicolon dropped.
func normalizeWhitelist(query string) string {
	q := strings.TrimSpace(query)
	q = strings.TrimSuffix(q, ";")
	return strings.ToUpper(strings.TrimSpace(q))
}
