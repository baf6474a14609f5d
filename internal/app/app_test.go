package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/noterang/internal/common"
	"github.com/ternarybob/noterang/internal/interfaces"
	"github.com/ternarybob/noterang/internal/models"
)

type namedMethod string

func (m namedMethod) Name() string { return string(m) }

func (m namedMethod) Attempt(ctx context.Context, ref models.ArtifactRef, timeout time.Duration) (models.ArtifactHandle, error) {
	return models.ArtifactHandle{Path: ref.FileStem, Method: string(m)}, nil
}

func available() map[string]interfaces.ExportMethod {
	return map[string]interfaces.ExportMethod{
		common.ExportMethodCLI:       namedMethod(common.ExportMethodCLI),
		common.ExportMethodMenu:      namedMethod(common.ExportMethodMenu),
		common.ExportMethodButton:    namedMethod(common.ExportMethodButton),
		common.ExportMethodFileWatch: namedMethod(common.ExportMethodFileWatch),
	}
}

func testConfig(t *testing.T) *common.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := common.NewDefaultConfig()
	cfg.Workflow.OutputLanguage = "ko"
	cfg.Workflow.LedgerPath = filepath.Join(dir, "ledger")
	cfg.Workflow.DownloadDirectory = filepath.Join(dir, "output")
	cfg.Diagnostics.Directory = filepath.Join(dir, "diagnostics")
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBuildExportChain_DeclaredOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Export.Methods = []string{common.ExportMethodButton, common.ExportMethodCLI}

	chain, err := BuildExportChain(cfg, available(), arbor.NewLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"button", "cli"}, chain.Methods())
}

func TestBuildExportChain_UnknownMethod(t *testing.T) {
	cfg := testConfig(t)
	cfg.Export.Methods = []string{common.ExportMethodCLI, "coordinates"}

	_, err := BuildExportChain(cfg, available(), arbor.NewLogger())
	assert.Error(t, err)
}

func TestNew_WiresWithoutStartingCollaborators(t *testing.T) {
	cfg := testConfig(t)

	application, err := New(cfg, arbor.NewLogger())
	require.NoError(t, err)

	assert.Equal(t, cfg.Export.Methods, application.Chain.Methods())
	assert.False(t, application.Browser.Started())

	entries, err := application.RunLedger().List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, application.Close())
}
