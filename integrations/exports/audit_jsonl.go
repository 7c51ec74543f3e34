package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"riskledger/integrations/audit"
)

type jsonlRecord struct {
	Sequence   uint64          `json:"sequence"`
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Attributes json.RawMessage `json:"attributes"`
	PrevDigest string          `json:"prevDigest"`
	Digest     string          `json:"digest"`
	CreatedAt  string          `json:"createdAt"`
}

// AuditJSONL builds a JSON Lines export for the supplied audit records and
// returns the serialised payload alongside a checksum.
func AuditJSONL(records []audit.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, rec := range records {
		attrs := json.RawMessage(rec.Attributes)
		if len(attrs) == 0 || !json.Valid(attrs) {
			attrs = json.RawMessage("{}")
		}
		payload := jsonlRecord{
			Sequence:   rec.Sequence,
			ID:         rec.ID.String(),
			Type:       rec.Type,
			Attributes: attrs,
			PrevDigest: rec.PrevDigest,
			Digest:     rec.Digest,
			CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
