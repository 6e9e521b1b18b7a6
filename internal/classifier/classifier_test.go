package classifier

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/quipgate/quipgate/internal/quiplet"
)

type fakeBlockStore struct {
	blocked map[string]bool
	calls   []string
}

func (f *fakeBlockStore) IsPrincipalBlocked(ctx context.Context, principal string) (bool, error) {
	return f.blocked[principal], nil
}

func (f *fakeBlockStore) BlockPrincipal(ctx context.Context, principal string, expires time.Time, reason string) error {
	if f.blocked == nil {
		f.blocked = map[string]bool{}
	}
	f.blocked[principal] = true
	f.calls = append(f.calls, principal)
	return nil
}

func testSchema(t *testing.T) *quiplet.Schema {
	t.Helper()
	schema, err := quiplet.NewSchema([]quiplet.Relation{
		{Name: "customers", Attributes: []string{"first_name", "last_name", "email", "number"}},
	})
	if err != nil {
		t.Fatalf("failed to build schema: %v", err)
	}
	return schema
}

// testArtifact hand-builds a two-cluster model: cluster 0 fires on projection
// of first_name, cluster 1 fires on projection of email.
func testArtifact(t *testing.T, schema *quiplet.Schema) *Artifact {
	t.Helper()
	dim := schema.Dimension()
	w0 := make([]float64, dim)
	w1 := make([]float64, dim)
	// Layout: [command, relProjected[1], attrProjected[4], relSelected[1],
	// attrSelected[4], funcUsed[8]]. first_name projects at offset 2, email
	// at offset 4.
	w0[2] = 1.0
	w1[4] = 1.0

	a := &Artifact{
		Version:   ArtifactVersion,
		TrainedAt: time.Now(),
		Dimension: dim,
		Classes:   []int{0, 1},
		Weights:   [][]float64{w0, w1},
		Bias:      []float64{0, 0},
		PrincipalClusters: map[string][]int{
			"alice": {0},
			"bob":   {1},
		},
		AllowedClusters: map[string][]int{
			"0": {0},
			"1": {1},
		},
	}
	if err := a.Validate(); err != nil {
		t.Fatalf("test artifact invalid: %v", err)
	}
	return a
}

func defaultConfig() Config {
	return Config{
		BlockThreshold:         3,
		PrincipalBlockDuration: time.Hour,
		Whitelist:              []string{"SELECT * FROM customers"},
		AdminThreshold:         0.9,
		StaffThreshold:         0.7,
		AnalystThreshold:       0.1,
	}
}

func TestClassifyAllowedMatchingBehavior(t *testing.T) {
	schema := testSchema(t)
	c, err := New(testArtifact(t, schema), schema, &fakeBlockStore{}, defaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	v, err := c.Classify(context.Background(), "SELECT first_name FROM customers", "alice", RoleStaff)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Decision != Allowed {
		t.Errorf("decision = %v, want allowed", v.Decision)
	}
	if v.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0", v.Confidence)
	}
	if v.Cluster != 0 {
		t.Errorf("cluster = %d, want 0", v.Cluster)
	}
}

func TestClassifyDeviationLadder(t *testing.T) {
	schema := testSchema(t)
	blocks := &fakeBlockStore{}
	c, err := New(testArtifact(t, schema), schema, blocks, defaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// alice's cluster is 0; an email projection predicts cluster 1.
	deviant := "SELECT email FROM customers"

	for i := 1; i <= 2; i++ {
		v, err := c.Classify(context.Background(), deviant, "alice", RoleStaff)
		if err != nil {
			t.Fatalf("Classify %d: %v", i, err)
		}
		if v.Decision != Intrusion {
			t.Fatalf("deviation %d: decision = %v, want intrusion", i, v.Decision)
		}
		if v.Infractions != i {
			t.Errorf("deviation %d: infractions = %d", i, v.Infractions)
		}
	}

	v, err := c.Classify(context.Background(), deviant, "alice", RoleStaff)
	if err != nil {
		t.Fatalf("Classify third deviation: %v", err)
	}
	if v.Decision != Blocked {
		t.Errorf("third deviation: decision = %v, want blocked", v.Decision)
	}
	if len(blocks.calls) != 1 || blocks.calls[0] != "alice" {
		t.Errorf("block calls = %v", blocks.calls)
	}

	// Subsequent queries see the persisted block.
	v, err = c.Classify(context.Background(), "SELECT first_name FROM customers", "alice", RoleStaff)
	if err != nil {
		t.Fatalf("Classify after block: %v", err)
	}
	if v.Decision != Blocked {
		t.Errorf("after block: decision = %v, want blocked", v.Decision)
	}
}

func TestClassifyInfractionsResetOnAllowed(t *testing.T) {
	schema := testSchema(t)
	c, _ := New(testArtifact(t, schema), schema, &fakeBlockStore{}, defaultConfig(), zap.NewNop())

	if _, err := c.Classify(context.Background(), "SELECT email FROM customers", "alice", RoleStaff); err != nil {
		t.Fatalf("deviation: %v", err)
	}
	if c.Infractions("alice") != 1 {
		t.Fatalf("infractions = %d, want 1", c.Infractions("alice"))
	}
	if _, err := c.Classify(context.Background(), "SELECT first_name FROM customers", "alice", RoleStaff); err != nil {
		t.Fatalf("conforming query: %v", err)
	}
	if c.Infractions("alice") != 0 {
		t.Errorf("infractions = %d after conforming query, want 0", c.Infractions("alice"))
	}
}

func TestReplaceArtifact(t *testing.T) {
	schema := testSchema(t)
	c, err := New(testArtifact(t, schema), schema, &fakeBlockStore{}, defaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// An email projection deviates from alice's learned cluster.
	deviant := "SELECT email FROM customers"
	v, err := c.Classify(context.Background(), deviant, "alice", RoleStaff)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Decision != Intrusion || c.Infractions("alice") != 1 {
		t.Fatalf("decision = %v, infractions = %d", v.Decision, c.Infractions("alice"))
	}

	// A retrained model that moves alice onto cluster 1 swaps in without
	// restart and clears the pending infraction.
	retrained := testArtifact(t, schema)
	retrained.PrincipalClusters = map[string][]int{"alice": {1}, "bob": {0}}
	if err := c.ReplaceArtifact(retrained); err != nil {
		t.Fatalf("ReplaceArtifact: %v", err)
	}
	if c.Infractions("alice") != 0 {
		t.Errorf("infractions = %d after swap, want 0", c.Infractions("alice"))
	}

	v, err = c.Classify(context.Background(), deviant, "alice", RoleStaff)
	if err != nil {
		t.Fatalf("Classify after swap: %v", err)
	}
	if v.Decision != Allowed {
		t.Errorf("decision = %v after swap, want allowed", v.Decision)
	}

	t.Run("DimensionMismatchRejected", func(t *testing.T) {
		bad := testArtifact(t, schema)
		bad.Dimension++
		if err := c.ReplaceArtifact(bad); err == nil {
			t.Error("expected dimension mismatch error")
		}
	})
}

func TestClassifyWhitelistBypassesModel(t *testing.T) {
	schema := testSchema(t)
	// nil artifact with fail-closed: only the whitelist path can admit.
	c, err := New(nil, schema, &fakeBlockStore{}, defaultConfig(), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	v, err := c.Classify(context.Background(), "  select * from customers; ", "anyone", RoleAnalyst)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Decision != Allowed || !v.Whitelisted {
		t.Errorf("verdict = %+v, want whitelisted allow", v)
	}
}

func TestClassifyArtifactUnavailable(t *testing.T) {
	schema := testSchema(t)

	t.Run("FailClosed", func(t *testing.T) {
		c, _ := New(nil, schema, &fakeBlockStore{}, defaultConfig(), zap.NewNop())
		_, err := c.Classify(context.Background(), "SELECT email FROM customers", "alice", RoleStaff)
		if !errors.Is(err, ErrArtifactUnavailable) {
			t.Errorf("err = %v, want ErrArtifactUnavailable", err)
		}
	})

	t.Run("FailOpen", func(t *testing.T) {
		cfg := defaultConfig()
		cfg.FailOpen = true
		c, _ := New(nil, schema, &fakeBlockStore{}, cfg, zap.NewNop())
		v, err := c.Classify(context.Background(), "SELECT email FROM customers", "alice", RoleStaff)
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if v.Decision != Allowed {
			t.Errorf("decision = %v, want allowed under fail-open", v.Decision)
		}
	})
}

func TestClassifyUnknownPrincipal(t *testing.T) {
	schema := testSchema(t)
	c, _ := New(testArtifact(t, schema), schema, &fakeBlockStore{}, defaultConfig(), zap.NewNop())

	_, err := c.Classify(context.Background(), "SELECT first_name FROM customers", "stranger", RoleAnalyst)
	if !errors.Is(err, ErrUnknownPrincipal) {
		t.Errorf("err = %v, want ErrUnknownPrincipal", err)
	}
}

func TestRoleThresholdAsymmetry(t *testing.T) {
	schema := testSchema(t)
	a := testArtifact(t, schema)
	// bob spans both clusters; a cluster-0 prediction then matches half his
	// history, confidence 0.5.
	a.PrincipalClusters["bob"] = []int{1, 0}
	c, _ := New(a, schema, &fakeBlockStore{}, defaultConfig(), zap.NewNop())

	query := "SELECT first_name FROM customers"

	v, err := c.Classify(context.Background(), query, "bob", RoleAnalyst)
	if err != nil {
		t.Fatalf("analyst: %v", err)
	}
	if v.Decision != Allowed {
		t.Errorf("analyst at confidence %v: decision = %v, want allowed", v.Confidence, v.Decision)
	}

	v, err = c.Classify(context.Background(), query, "bob", RoleAdmin)
	if err != nil {
		t.Fatalf("admin: %v", err)
	}
	if v.Decision != Intrusion {
		t.Errorf("admin at confidence %v: decision = %v, want intrusion", v.Confidence, v.Decision)
	}
}

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"admin", RoleAdmin},
		{" Staff ", RoleStaff},
		{"ANALYST", RoleAnalyst},
		{"intern", RoleUnknown},
		{"", RoleUnknown},
	}
	for _, tt := range tests {
		if got := ParseRole(tt.in); got != tt.want {
			t.Errorf("ParseRole(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	schema := testSchema(t)
	a := testArtifact(t, schema)
	path := filepath.Join(t.TempDir(), "artifact.json")

	if err := SaveArtifact(path, a); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	loaded, err := LoadArtifact(path)
	if err != nil {
		t.Fatalf("LoadArtifact: %v", err)
	}
	if loaded.Dimension != a.Dimension || len(loaded.Classes) != len(a.Classes) {
		t.Errorf("loaded artifact differs: %+v", loaded)
	}
	if got := loaded.ClustersFor("alice"); len(got) != 1 || got[0] != 0 {
		t.Errorf("ClustersFor(alice) = %v", got)
	}
}

func TestArtifactValidate(t *testing.T) {
	schema := testSchema(t)

	t.Run("BadVersion", func(t *testing.T) {
		a := testArtifact(t, schema)
		a.Version = 99
		if err := a.Validate(); err == nil {
			t.Error("expected version error")
		}
	})

	t.Run("RowMismatch", func(t *testing.T) {
		a := testArtifact(t, schema)
		a.Bias = a.Bias[:1]
		if err := a.Validate(); err == nil {
			t.Error("expected row mismatch error")
		}
	})

	t.Run("AllowedSetMissingSelf", func(t *testing.T) {
		a := testArtifact(t, schema)
		a.AllowedClusters["0"] = []int{1}
		if err := a.Validate(); err == nil {
			t.Error("expected self-inclusion error")
		}
	})
}
