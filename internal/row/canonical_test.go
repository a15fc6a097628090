package row

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{
		"zebra": int64(1),
		"alpha": "a",
		"beta":  true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":"a","beta":true,"zebra":1}`, string(out))
}

func TestMarshalCanonicalUTF16Order(t *testing.T) {
	// U+1F600 encodes as the surrogate 0xD83D, which sorts before 0xE000.
	// UTF-8 byte order would put U+E000 first.
	out, err := MarshalCanonical(map[string]any{
		"\uE000":     int64(1),
		"\U0001F600": int64(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uE000\":1}", string(out))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	out, err := MarshalCanonical("<a & b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a & b>"`, string(out))
}

func TestMarshalCanonicalLineSeparatorLiteral(t *testing.T) {
	out, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(out))
}

func TestMarshalCanonicalRowValues(t *testing.T) {
	out, err := MarshalCanonical(Row{
		"amount": Money("10.50"),
		"date":   MustDate("2026-01-01"),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"amount":"10.5","date":"2026-01-01"}`, string(out))
}

func TestMarshalCanonicalRejectsFloats(t *testing.T) {
	_, err := MarshalCanonical(map[string]any{"x": 1.5})
	assert.Error(t, err)
}

func TestSyncKeyStable(t *testing.T) {
	k1, err := SyncKey("ent_expenses", "ent_expenses", "row-1")
	require.NoError(t, err)
	k2, err := SyncKey("ent_expenses", "ent_expenses", "row-1")
	require.NoError(t, err)
	k3, err := SyncKey("ent_expenses.personal", "ent_expenses", "row-1")
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 64)
}

func TestHashWithDomainSeparates(t *testing.T) {
	data := []byte("payload")
	assert.NotEqual(t, HashWithDomain("a", data), HashWithDomain("b", data))
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "alice@example.com", NormalizeEmail("  Alice@Example.COM "))
	// NFC: e + combining acute == precomposed é
	assert.Equal(t, NormalizeEmail("jos\u00e9@x.io"), NormalizeEmail("jose\u0301@x.io"))
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "Acme Corp", NormalizeName("  Acme   Corp "))
	assert.NotEqual(t, NormalizeName("acme"), NormalizeName("Acme"))
}
