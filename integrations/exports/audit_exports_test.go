package exports

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"riskledger/integrations/audit"
)

func sampleRecord(seq uint64) audit.Record {
	return audit.Record{
		ID:         uuid.MustParse("6f1c2a52-3a7e-4b7c-9a2e-0d3c5b1f8e01"),
		Sequence:   seq,
		Type:       "lending.borrowed",
		Attributes: `{"amount":"15000","debt":"15000"}`,
		PrevDigest: "",
		Digest:     "ab12",
		CreatedAt:  time.Unix(1700, 0).UTC(),
	}
}

func TestAuditCSV(t *testing.T) {
	data, checksum, err := AuditCSV([]audit.Record{sampleRecord(1)})
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(data) == 0 || checksum == "" {
		t.Fatalf("expected data and checksum")
	}
	output := string(data)
	if !strings.Contains(output, "sequence,id,type,attributes,prev_digest,digest,created_at") {
		t.Fatalf("missing header: %s", output)
	}
	if !strings.Contains(output, "lending.borrowed") {
		t.Fatalf("missing type: %s", output)
	}
}

func TestAuditJSONL(t *testing.T) {
	rec := sampleRecord(7)
	broken := sampleRecord(8)
	broken.Attributes = "not json"
	data, checksum, err := AuditJSONL([]audit.Record{rec, broken})
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if len(data) == 0 || checksum == "" {
		t.Fatalf("expected data and checksum")
	}
	output := string(data)
	if !strings.Contains(output, `"sequence":7`) {
		t.Fatalf("unexpected payload: %s", output)
	}
	if !strings.Contains(output, `"attributes":{"amount":"15000","debt":"15000"}`) {
		t.Fatalf("attributes must be embedded as an object: %s", output)
	}
	if !strings.Contains(output, `"sequence":8,"id":"6f1c2a52-3a7e-4b7c-9a2e-0d3c5b1f8e01","type":"lending.borrowed","attributes":{}`) {
		t.Fatalf("invalid attributes must export as an empty object: %s", output)
	}
}
