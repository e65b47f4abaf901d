package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funcd-io/funcd/internal/domain"
)

func TestParseManifestFull(t *testing.T) {
	src := []byte(`
export const description = "Greets the caller";

export const triggers = [
  { type: "http", method: ["GET", "POST"] },
  { type: "schedule", cron: "0 9 * * *", name: "morning" },
];

export default async (req, ctx) => ({ ok: true });
`)

	m, err := ParseManifest(src)
	require.NoError(t, err)

	assert.Equal(t, "Greets the caller", m.Description)
	assert.False(t, m.RunOnce)
	require.Len(t, m.Triggers, 2)
	assert.Equal(t, domain.TriggerHTTP, m.Triggers[0].Type)
	assert.Equal(t, []string{"GET", "POST"}, m.Triggers[0].Methods)
	assert.Equal(t, "0 9 * * *", m.Triggers[1].Cron)
	assert.Equal(t, "morning", m.Triggers[1].Name)
}

func TestParseManifestNoDefaultExport(t *testing.T) {
	src := []byte(`export const description = "orphan";`)
	_, err := ParseManifest(src)
	assert.ErrorIs(t, err, ErrNoHandler)
}

func TestParseManifestSingleQuotesAndBareKeys(t *testing.T) {
	src := []byte(`
export const triggers = [
  { type: 'database', table: 'users', operations: ['INSERT', 'UPDATE'] },
];
export default function handler(req, ctx) {}
`)

	m, err := ParseManifest(src)
	require.NoError(t, err)
	require.Len(t, m.Triggers, 1)
	assert.Equal(t, domain.TriggerDatabase, m.Triggers[0].Type)
	assert.Equal(t, "users", m.Triggers[0].Table)
	assert.Equal(t, []string{"INSERT", "UPDATE"}, m.Triggers[0].Operations)
}

func TestParseManifestRunOnce(t *testing.T) {
	src := []byte(`
export const runOnce = true;
export const triggers = [{ type: "once" }];
export default async () => ({ success: true });
`)

	m, err := ParseManifest(src)
	require.NoError(t, err)
	assert.True(t, m.RunOnce)
	require.Len(t, m.Triggers, 1)
	assert.Equal(t, domain.TriggerOnce, m.Triggers[0].Type)
}

func TestParseManifestTypedDeclarations(t *testing.T) {
	src := []byte(`
export const description: string = 'typed';
export const runOnce: boolean = false;
export const triggers: Trigger[] = [{ type: "event", event: "user.created" }];
export default async (req, ctx) => null;
`)

	m, err := ParseManifest(src)
	require.NoError(t, err)
	assert.Equal(t, "typed", m.Description)
	require.Len(t, m.Triggers, 1)
	assert.Equal(t, "user.created", m.Triggers[0].Event)
}

func TestParseManifestNoTriggers(t *testing.T) {
	src := []byte(`export default () => "bare";`)

	m, err := ParseManifest(src)
	require.NoError(t, err)
	assert.Empty(t, m.Triggers)
	assert.Empty(t, m.Description)
}

func TestParseManifestBracketsInsideStrings(t *testing.T) {
	src := []byte(`
export const triggers = [
  { type: "http", method: "GET", name: "weird ] bracket [ name" },
];
export default () => ({});
`)

	m, err := ParseManifest(src)
	require.NoError(t, err)
	require.Len(t, m.Triggers, 1)
	assert.Equal(t, "weird ] bracket [ name", m.Triggers[0].Name)
}

func TestParseManifestTrailingCommas(t *testing.T) {
	src := []byte(`
export const triggers = [
  {
    type: "http",
    method: ["GET", "POST",],
  },
];
export default async (req, ctx) => ({ ok: true });
`)

	m, err := ParseManifest(src)
	require.NoError(t, err)
	require.Len(t, m.Triggers, 1)
	assert.Equal(t, domain.TriggerHTTP, m.Triggers[0].Type)
	assert.Equal(t, []string{"GET", "POST"}, m.Triggers[0].Methods)
}

func TestParseManifestMalformedTriggers(t *testing.T) {
	src := []byte(`
export const triggers = [ { type: "http", method: someVariable } ];
export default () => ({});
`)

	_, err := ParseManifest(src)
	assert.Error(t, err)
}

func TestNormalizeObjectLiteral(t *testing.T) {
	in := []byte(`[{ type: 'http', method: ['GET'], nested: { a: true, b: null } }]`)
	out := normalizeObjectLiteral(in)
	assert.JSONEq(t,
		`[{"type":"http","method":["GET"],"nested":{"a":true,"b":null}}]`,
		string(out))
}

func TestNormalizeObjectLiteralEscapedQuote(t *testing.T) {
	in := []byte(`[{ name: 'it\'s fine' }]`)
	out := normalizeObjectLiteral(in)
	assert.JSONEq(t, `[{"name":"it's fine"}]`, string(out))
}

func TestNormalizeObjectLiteralTrailingCommas(t *testing.T) {
	in := []byte("[\n  { type: 'http', },\n]")
	out := normalizeObjectLiteral(in)
	assert.JSONEq(t, `[{"type":"http"}]`, string(out))

	// A comma inside a string is untouched.
	in = []byte(`[{ name: "a,]" },]`)
	out = normalizeObjectLiteral(in)
	assert.JSONEq(t, `[{"name":"a,]"}]`, string(out))
}
