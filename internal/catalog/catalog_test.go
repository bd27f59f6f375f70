package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/care-portal/internal/clock"
	"github.com/iliyamo/care-portal/internal/logging"
	"github.com/iliyamo/care-portal/internal/model"
	"github.com/iliyamo/care-portal/internal/repository"
	"github.com/iliyamo/care-portal/internal/testutil"
)

const sample = `
templates:
  - name: Service Agreement
    category: onboarding
    file_path: templates/service-agreement.pdf
    expiry_months: 12
    sort_order: 1
  - name: Consent Form
    template_type: online_form
    requires_witness: true
    form_schema:
      fields:
        - name: guardian
          type: text
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, c.Templates, 2)
	require.Equal(t, 12, *c.Templates[0].ExpiryMonths)

	tpl, err := c.Templates[1].template()
	require.NoError(t, err)
	require.Equal(t, model.TemplateOnlineForm, tpl.Type)
	require.JSONEq(t, `{"fields":[{"name":"guardian","type":"text"}]}`, string(tpl.FormSchema))
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":   "templates:\n  - name: A\n    expiry_month: 3\n",
		"missing name":  "templates:\n  - category: x\n",
		"bad type":      "templates:\n  - name: A\n    template_type: docx\n",
		"zero expiry":   "templates:\n  - name: A\n    expiry_months: 0\n",
		"duplicate":     "templates:\n  - name: A\n  - name: ' A '\n",
		"not a mapping": "- just\n- a list\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}

	c, err := Parse(nil)
	require.NoError(t, err)
	require.Empty(t, c.Templates)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	c, err := Load(path)
	require.NoError(t, err)
	require.Len(t, c.Templates, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestSeed_CreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewTemplateRepo(testutil.OpenDB(t))
	clk := clock.Fake(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	res, err := Seed(ctx, c, repo, clk, logging.Nop())
	require.NoError(t, err)
	require.Equal(t, Result{Created: 2}, res)

	res, err = Seed(ctx, c, repo, clk, logging.Nop())
	require.NoError(t, err)
	require.Equal(t, Result{Unchanged: 2}, res)

	first, err := repo.FindByName(ctx, "Service Agreement")
	require.NoError(t, err)

	six := 6
	c.Templates[0].ExpiryMonths = &six
	clk.Advance(time.Hour)
	res, err = Seed(ctx, c, repo, clk, logging.Nop())
	require.NoError(t, err)
	require.Equal(t, Result{Updated: 1, Unchanged: 1}, res)

	got, err := repo.FindByName(ctx, "Service Agreement")
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)
	require.Equal(t, 6, *got.ExpiryMonths)
	require.Equal(t, first.CreatedAt, got.CreatedAt)
	require.Equal(t, clk.Now(), got.UpdatedAt)

	all, err := repo.List(ctx, repository.TemplateFilter{IncludeInactive: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
}
