package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://localhost/taskcore"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsZeroSLA(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://localhost/taskcore"
	cfg.SLA = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresDSN(t *testing.T) {
	cfg := Defaults()
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsScoreThresholdOutOfRange(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.DSN = "postgres://localhost/taskcore"
	cfg.ScoreThreshold = 1.5
	require.Error(t, cfg.Validate())
}

func TestStructuralFieldsEqual(t *testing.T) {
	a := Defaults()
	a.Postgres.DSN = "postgres://localhost/taskcore"
	b := a
	b.SLA = 30 * time.Minute
	require.True(t, a.StructuralFieldsEqual(b), "non-structural field change should not count as structural")

	c := a
	c.Postgres.DSN = "postgres://otherhost/taskcore"
	require.False(t, a.StructuralFieldsEqual(c), "dsn change is structural")
}

func TestWriteDefaultsYAMLRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskcore.yaml")

	require.NoError(t, WriteDefaultsYAML(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var cfg Config
	require.NoError(t, yaml.Unmarshal(raw, &cfg))
	require.Equal(t, Defaults().SLA, cfg.SLA)
	require.Equal(t, Defaults().HTTP.IntakeAddr, cfg.HTTP.IntakeAddr)
}

func TestWriteDefaultsYAMLRefusesToOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskcore.yaml")
	require.NoError(t, WriteDefaultsYAML(path))
	require.Error(t, WriteDefaultsYAML(path))
}
