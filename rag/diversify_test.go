package rag

import (
	"testing"
)

func chunkWithDoc(id, documentID string, score float64) RetrievedChunk {
	return RetrievedChunk{
		ID:              id,
		DocumentID:      documentID,
		Content:         "content of " + id,
		SimilarityScore: score,
	}
}

func chunkIDs(chunks []RetrievedChunk) []string {
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	return ids
}

func TestDiversifier_SingleDocQuota(t *testing.T) {
	diversifier := NewDiversifier(DiversificationPolicy{
		MaxPerDocument: 1,
		PreserveTopN:   1,
	}, nil)

	chunks := []RetrievedChunk{
		chunkWithDoc("c0", "docA", 0.9),
		chunkWithDoc("c1", "docA", 0.8),
		chunkWithDoc("c2", "docB", 0.7),
		chunkWithDoc("c3", "docA", 0.6),
	}

	got := diversifier.Diversify(chunks)

	want := []string{"c0", "c2"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, chunkIDs(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestDiversifier_PreservedTopCountsTowardQuota(t *testing.T) {
	diversifier := NewDiversifier(DiversificationPolicy{
		MaxPerDocument: 2,
		PreserveTopN:   2,
	}, nil)

	// 头部两块来自同一文档：豁免但占满 docA 的配额
	chunks := []RetrievedChunk{
		chunkWithDoc("c0", "docA", 0.95),
		chunkWithDoc("c1", "docA", 0.90),
		chunkWithDoc("c2", "docA", 0.85),
		chunkWithDoc("c3", "docB", 0.80),
	}

	got := diversifier.Diversify(chunks)

	want := []string{"c0", "c1", "c3"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, chunkIDs(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestDiversifier_TopNExemptEvenOverQuota(t *testing.T) {
	diversifier := NewDiversifier(DiversificationPolicy{
		MaxPerDocument: 1,
		PreserveTopN:   3,
	}, nil)

	// 头部三块全部来自 docA，超过配额也必须全部保留
	chunks := []RetrievedChunk{
		chunkWithDoc("c0", "docA", 0.9),
		chunkWithDoc("c1", "docA", 0.8),
		chunkWithDoc("c2", "docA", 0.7),
		chunkWithDoc("c3", "docA", 0.6),
	}

	got := diversifier.Diversify(chunks)

	want := []string{"c0", "c1", "c2"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, chunkIDs(got))
	}
}

func TestDiversifier_MissingDocumentIDUnconstrained(t *testing.T) {
	diversifier := NewDiversifier(DiversificationPolicy{
		MaxPerDocument: 1,
		PreserveTopN:   0,
	}, nil)

	chunks := []RetrievedChunk{
		chunkWithDoc("c0", "", 0.9),
		chunkWithDoc("c1", "", 0.8),
		chunkWithDoc("c2", "docA", 0.7),
		chunkWithDoc("c3", "docA", 0.6),
		chunkWithDoc("c4", "", 0.5),
	}

	got := diversifier.Diversify(chunks)

	// 无文档 ID 的块全部保留，docA 只留第一个
	want := []string{"c0", "c1", "c2", "c4"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, chunkIDs(got))
	}
}

func TestDiversifier_DisabledPolicyIsIdentity(t *testing.T) {
	diversifier := NewDiversifier(DiversificationPolicy{
		MaxPerDocument: 0,
		PreserveTopN:   3,
	}, nil)

	chunks := []RetrievedChunk{
		chunkWithDoc("c0", "docA", 0.9),
		chunkWithDoc("c1", "docA", 0.8),
		chunkWithDoc("c2", "docA", 0.7),
	}

	got := diversifier.Diversify(chunks)
	if len(got) != len(chunks) {
		t.Errorf("disabled policy must not remove chunks: got %d of %d", len(got), len(chunks))
	}
}

func TestDiversifier_EmptyInput(t *testing.T) {
	diversifier := NewDiversifier(DefaultDiversificationPolicy(), nil)

	if got := diversifier.Diversify(nil); len(got) != 0 {
		t.Errorf("expected empty output, got %d", len(got))
	}
	if got := diversifier.Diversify([]RetrievedChunk{}); len(got) != 0 {
		t.Errorf("expected empty output, got %d", len(got))
	}
}

func TestDiversifier_Idempotent(t *testing.T) {
	diversifier := NewDiversifier(DefaultDiversificationPolicy(), nil)

	chunks := []RetrievedChunk{
		chunkWithDoc("c0", "docA", 0.95),
		chunkWithDoc("c1", "docA", 0.90),
		chunkWithDoc("c2", "docA", 0.85),
		chunkWithDoc("c3", "docB", 0.80),
		chunkWithDoc("c4", "docB", 0.75),
		chunkWithDoc("c5", "docB", 0.70),
		chunkWithDoc("c6", "docC", 0.65),
	}

	once := diversifier.Diversify(chunks)
	twice := diversifier.Diversify(once)

	if len(once) != len(twice) {
		t.Fatalf("second pass changed length: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].ID != twice[i].ID {
			t.Errorf("position %d: %s vs %s", i, once[i].ID, twice[i].ID)
		}
	}
}

// --- 多样性分数 ---

func TestDiversityScore(t *testing.T) {
	tests := []struct {
		name   string
		chunks []RetrievedChunk
		want   float64
	}{
		{"empty input", nil, 0.0},
		{
			"all distinct documents",
			[]RetrievedChunk{
				chunkWithDoc("c0", "docA", 0.9),
				chunkWithDoc("c1", "docB", 0.8),
			},
			1.0,
		},
		{
			"half redundant",
			[]RetrievedChunk{
				chunkWithDoc("c0", "docA", 0.9),
				chunkWithDoc("c1", "docA", 0.8),
				chunkWithDoc("c2", "docB", 0.7),
				chunkWithDoc("c3", "docB", 0.6),
			},
			0.5,
		},
		{
			"no document ids",
			[]RetrievedChunk{
				chunkWithDoc("c0", "", 0.9),
				chunkWithDoc("c1", "", 0.8),
			},
			1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DiversityScore(tt.chunks); got != tt.want {
				t.Errorf("DiversityScore = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDiversify_ImprovesOrKeepsScore(t *testing.T) {
	diversifier := NewDiversifier(DefaultDiversificationPolicy(), nil)

	chunks := []RetrievedChunk{
		chunkWithDoc("c0", "docA", 0.95),
		chunkWithDoc("c1", "docA", 0.90),
		chunkWithDoc("c2", "docA", 0.85),
		chunkWithDoc("c3", "docA", 0.80),
		chunkWithDoc("c4", "docB", 0.75),
	}

	before := DiversityScore(chunks)
	after := DiversityScore(diversifier.Diversify(chunks))

	if after < before {
		t.Errorf("diversification lowered diversity: %v -> %v", before, after)
	}
}
