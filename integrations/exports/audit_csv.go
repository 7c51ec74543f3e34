package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"time"

	"riskledger/integrations/audit"
)

var csvHeader = []string{"sequence", "id", "type", "attributes", "prev_digest", "digest", "created_at"}

// AuditCSV builds a CSV export for the supplied audit records and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func AuditCSV(records []audit.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, rec := range records {
		row := []string{
			fmt.Sprintf("%d", rec.Sequence),
			rec.ID.String(),
			rec.Type,
			rec.Attributes,
			rec.PrevDigest,
			rec.Digest,
			rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
