package record_test

import (
	"errors"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-compliance/internal/record"
)

func buildChain(t *testing.T, n int) []record.ChainEntry {
	t.Helper()
	b := record.NewBuilder()
	prev := record.ChainLink{}
	var entries []record.ChainEntry
	for i := 0; i < n; i++ {
		res, err := b.BuildRegistration(record.Input{
			Invoice:     testInvoice(string(rune('1' + i))),
			Issuer:      issuer,
			Previous:    prev,
			GeneratedAt: generatedAt,
		})
		require.NoError(t, err)
		entry := res.Record.Entry()
		entry.Seq = int64(i + 1)
		entries = append(entries, entry)
		prev = res.Record.Link()
	}
	return entries
}

func TestVerifyChain_Valid(t *testing.T) {
	entries := buildChain(t, 4)

	head, err := record.VerifyChain(entries)
	require.NoError(t, err)
	assert.Equal(t, entries[3].Hash, head)
}

func TestVerifyChain_Empty(t *testing.T) {
	head, err := record.VerifyChain(nil)
	require.NoError(t, err)
	assert.Empty(t, head)
}

func TestVerifyChain_Tampered(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(entries []record.ChainEntry)
		index  int
	}{
		{
			name:   "canonical edited",
			mutate: func(e []record.ChainEntry) { e[1].Canonical = e[1].Canonical + "x" },
			index:  1,
		},
		{
			name:   "records swapped",
			mutate: func(e []record.ChainEntry) { e[1], e[2] = e[2], e[1] },
			index:  1,
		},
		{
			name:   "record removed",
			mutate: func(e []record.ChainEntry) { copy(e[2:], e[3:]) },
			index:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := buildChain(t, 4)
			tt.mutate(entries)

			_, err := record.VerifyChain(entries)
			var ce *record.ChainError
			require.True(t, errors.As(err, &ce), "expected ChainError, got %v", err)
			assert.Equal(t, tt.index, ce.Index)
		})
	}
}

func TestRenderDocument_Registration(t *testing.T) {
	b := record.NewBuilder()
	res, err := b.BuildRegistration(record.Input{Invoice: testInvoice("0001"), Issuer: issuer, GeneratedAt: generatedAt})
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(res.Document))

	root := doc.Root()
	require.NotNil(t, root)
	assert.Equal(t, record.RootElement, root.Tag)
	assert.Equal(t, record.Namespace, root.SelectAttrValue("xmlns", ""))

	assert.Equal(t, "1000.00", doc.FindElement("//RegistroAlta/ImporteTotal").Text())
	assert.Equal(t, "S", doc.FindElement("//Encadenamiento/PrimerRegistro").Text())
	assert.Equal(t, res.Hash, doc.FindElement("//RegistroAlta/Huella").Text())
	assert.Equal(t, "B12345678", doc.FindElement("//Destinatario/NIF").Text())
}
