package merge

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"cvewatch/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]*model.CanonicalRecord
	puts    int
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*model.CanonicalRecord{}}
}

func (s *memStore) GetRecord(_ context.Context, cveID string) (*model.CanonicalRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[cveID].Clone(), nil
}

func (s *memStore) PutRecord(_ context.Context, rec *model.CanonicalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.CVEID] = rec.Clone()
	s.puts++
	return nil
}

func strp(s string) *string { return &s }
func fp(f float64) *float64 { return &f }

func TestMerge_PriorityWinsPerField(t *testing.T) {
	ranked := []model.RawRecord{
		{Source: "vulnrichment", CVEID: "CVE-2024-0001", Score: fp(9.8)},
		{Source: "nvd", CVEID: "CVE-2024-0001", Score: fp(7.5), Description: strp("from nvd")},
		{Source: "mitre", CVEID: "CVE-2024-0001", Description: strp("from mitre"), Vendors: []string{"apache"}},
	}

	rec := Merge(nil, ranked)
	require.NotNil(t, rec.Score)
	assert.Equal(t, 9.8, *rec.Score, "highest-ranked non-null score wins")
	assert.Equal(t, "from nvd", rec.Description, "falls through the chain to the first supplier")
	assert.Equal(t, []string{"apache"}, rec.Vendors)

	assert.Equal(t, "vulnrichment", rec.Provenance[model.FieldScore])
	assert.Equal(t, "nvd", rec.Provenance[model.FieldDescription])
	assert.Equal(t, "mitre", rec.Provenance[model.FieldVendors])
}

func TestMerge_RetainsPriorWhenNoSourceSupplies(t *testing.T) {
	prior := &model.CanonicalRecord{
		CVEID:       "CVE-2024-0001",
		Description: "old description",
		Score:       fp(5.0),
		Provenance:  map[string]string{model.FieldDescription: "nvd", model.FieldScore: "nvd"},
	}
	ranked := []model.RawRecord{
		{Source: "mitre", CVEID: "CVE-2024-0001", Vendors: []string{"nginx"}},
	}

	rec := Merge(prior, ranked)
	assert.Equal(t, "old description", rec.Description)
	require.NotNil(t, rec.Score)
	assert.Equal(t, 5.0, *rec.Score)
	assert.Equal(t, "nvd", rec.Provenance[model.FieldScore])
	assert.Equal(t, []string{"nginx"}, rec.Vendors)

	// Prior is untouched.
	assert.Empty(t, prior.Vendors)
}

func TestMerge_NormalizesSets(t *testing.T) {
	ranked := []model.RawRecord{
		{Source: "nvd", CVEID: "CVE-2024-0001", Vendors: []string{"nginx", "apache", "nginx", ""}},
	}
	rec := Merge(nil, ranked)
	assert.Equal(t, []string{"apache", "nginx"}, rec.Vendors)
}

func TestMergerMergeOne_RanksAndPersists(t *testing.T) {
	store := newMemStore()
	m := NewMerger(store, []string{"vulnrichment", "nvd", "mitre"})

	res, err := m.MergeOne(context.Background(), "CVE-2024-0001", []model.RawRecord{
		{Source: "mitre", CVEID: "CVE-2024-0001", Description: strp("mitre text")},
		{Source: "nvd", CVEID: "CVE-2024-0001", Description: strp("nvd text")},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Prior)
	assert.Equal(t, "nvd text", res.Merged.Description)
	assert.False(t, res.Merged.UpdatedAt.IsZero())

	stored, err := store.GetRecord(context.Background(), "CVE-2024-0001")
	require.NoError(t, err)
	assert.Equal(t, "nvd text", stored.Description)
}

func TestMergerMergeOne_Idempotent(t *testing.T) {
	store := newMemStore()
	m := NewMerger(store, []string{"nvd", "mitre"})
	raws := []model.RawRecord{
		{Source: "nvd", CVEID: "CVE-2024-0001", Description: strp("text"), Score: fp(7.5)},
	}

	first, err := m.MergeOne(context.Background(), "CVE-2024-0001", raws)
	require.NoError(t, err)

	second, err := m.MergeOne(context.Background(), "CVE-2024-0001", raws)
	require.NoError(t, err)

	// Re-running with identical inputs reproduces the same record.
	first.Merged.UpdatedAt = second.Merged.UpdatedAt
	assert.Equal(t, first.Merged, second.Merged)
}

func TestMergerMergeOne_SkipsMalformed(t *testing.T) {
	store := newMemStore()
	m := NewMerger(store, []string{"nvd"})

	res, err := m.MergeOne(context.Background(), "CVE-2024-0001", []model.RawRecord{
		{Source: "nvd", CVEID: ""},                             // missing identifier
		{Source: "nvd", CVEID: "CVE-2024-0001", Score: fp(11)}, // invalid score
		{Source: "nvd", CVEID: "CVE-2024-0001", Description: strp("kept")},
	})
	require.NoError(t, err)
	assert.Equal(t, "kept", res.Merged.Description)

	_, err = m.MergeOne(context.Background(), "CVE-2024-0002", []model.RawRecord{
		{Source: "nvd", CVEID: ""},
	})
	assert.Error(t, err, "a batch with no valid records is rejected")
	assert.Equal(t, 1, store.puts, "nothing persisted for the rejected batch")
}

func TestMergerMergeOne_SerializesPerIdentifier(t *testing.T) {
	store := newMemStore()
	m := NewMerger(store, []string{"nvd"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.MergeOne(context.Background(), "CVE-2024-0001", []model.RawRecord{
				{Source: "nvd", CVEID: "CVE-2024-0001", Description: strp(fmt.Sprintf("pass %d", i))},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	rec, err := store.GetRecord(context.Background(), "CVE-2024-0001")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 20, store.puts)
}
