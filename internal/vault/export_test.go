package vault

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/org/envvault/internal/errs"
	"github.com/org/envvault/pkg/models"
)

func TestExportDotEnv(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	g := f.grant(models.KindVariable)

	for _, in := range []CreateInput{
		{Name: "PORT", Entries: []string{"dev=8080", "prod=80"}},
		{Name: "GREETING", Entries: []string{"dev=hello world"}},
		{Name: "DATABASE_URL", Entries: []string{"dev=postgres://u:p@localhost/app?sslmode=disable"}},
		{Name: "QUOTED", Entries: []string{`dev=say "hi"`}},
		{Name: "PROD_ONLY", Entries: []string{"prod=1"}},
	} {
		_, err := f.engine.CreateEntity(ctx, g, in)
		require.NoError(t, err)
	}
	res, err := f.engine.ResolveEntity(ctx, g, "port")
	require.NoError(t, err)
	_, err = f.engine.UpdateEntity(ctx, g, res.ID, UpdateInput{Entries: []string{"dev=9090"}})
	require.NoError(t, err)

	vars, err := f.engine.Export(ctx, g, "dev")
	require.NoError(t, err)
	assert.NotContains(t, vars, "PROD_ONLY")
	assert.Equal(t, "9090", vars["PORT"])

	goldie.New(t).Assert(t, "export_dev", []byte(ExportDotEnv(vars)))
}

func TestExportRequiresReadAuthority(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Export(context.Background(), f.grant(models.KindSecret, models.AuthCreateSecret), "dev")
	assert.Equal(t, errs.KindUnauthorized, errs.KindOf(err))

	_, err = f.engine.Export(context.Background(), f.grant(models.KindSecret), "qa")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))
}

func TestExportDotEnvQuoting(t *testing.T) {
	out := ExportDotEnv(map[string]string{"B": "plain", "A": "two words", "C": "a#b"})
	assert.Equal(t, "A=\"two words\"\nB=plain\nC=\"a#b\"\n", out)
	assert.Empty(t, ExportDotEnv(nil))
}
