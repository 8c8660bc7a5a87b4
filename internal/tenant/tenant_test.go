package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/sdko-org/visitor-beacon/internal/database/dbtest"
	"github.com/sdko-org/visitor-beacon/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	active := dbtest.Project(t, db, 1, "free")
	disabled := dbtest.Project(t, db, 1, "free", func(p *models.Project) { p.IsActive = false })

	r := NewResolver(db, time.Second)

	got, err := r.Resolve(ctx, active.TrackingID)
	require.NoError(t, err)
	assert.Equal(t, active.ID, got.ID)
	assert.True(t, got.IsActive)

	got, err = r.Resolve(ctx, disabled.TrackingID)
	require.NoError(t, err)
	assert.False(t, got.IsActive, "the resolver reports disabled projects, the pipeline rejects them")

	_, err = r.Resolve(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = r.Resolve(ctx, "")
	require.ErrorIs(t, err, ErrNotFound)

	got, err = r.ByID(ctx, disabled.ID)
	require.NoError(t, err)
	assert.Equal(t, disabled.TrackingID, got.TrackingID)
	_, err = r.ByID(ctx, 9999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOriginGuard(t *testing.T) {
	project := &models.Project{AllowedOrigins: "example.com, https://shop.other.io/path ,"}

	tests := []struct {
		name        string
		origin      string
		referer     string
		wantAllowed bool
		wantChecked bool
	}{
		{name: "exact", origin: "https://example.com", wantAllowed: true, wantChecked: true},
		{name: "subdomain", origin: "https://blog.example.com", wantAllowed: true, wantChecked: true},
		{name: "deep subdomain with port", origin: "http://a.b.example.com:3000", wantAllowed: true, wantChecked: true},
		{name: "configured as url", origin: "https://shop.other.io", wantAllowed: true, wantChecked: true},
		{name: "parent of configured host", origin: "https://other.io", wantAllowed: false, wantChecked: true},
		{name: "suffix without dot", origin: "https://evilexample.com", wantAllowed: false, wantChecked: true},
		{name: "lookalike suffix", origin: "https://example.com.evil.net", wantAllowed: false, wantChecked: true},
		{name: "referer fallback", referer: "https://www.example.com/pricing?x=1", wantAllowed: true, wantChecked: true},
		{name: "referer rejected", referer: "https://attacker.net/", wantAllowed: false, wantChecked: true},
		{name: "null origin uses referer", origin: "null", referer: "https://example.com/", wantAllowed: true, wantChecked: true},
		{name: "no headers bypass", wantAllowed: true, wantChecked: false},
		{name: "case insensitive", origin: "HTTPS://EXAMPLE.COM", wantAllowed: true, wantChecked: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := OriginGuard{}.Check(project, tt.origin, tt.referer)
			assert.Equal(t, tt.wantAllowed, d.Allowed)
			assert.Equal(t, tt.wantChecked, d.Checked)
		})
	}
}

func TestOriginGuardEmptyAllowList(t *testing.T) {
	d := OriginGuard{}.Check(&models.Project{AllowedOrigins: " , "}, "https://anything.net", "")
	assert.True(t, d.Allowed)
	assert.False(t, d.Checked)
}

func TestNormalizeHost(t *testing.T) {
	assert.Equal(t, "example.com", NormalizeHost("https://Example.com:8443/a/b"))
	assert.Equal(t, "example.com", NormalizeHost("example.com/path"))
	assert.Equal(t, "example.com", NormalizeHost("example.com."))
	assert.Equal(t, "", NormalizeHost("  "))
}
