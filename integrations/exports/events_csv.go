package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"stakepool/services/stakingd/storage"
)

var csvHeader = []string{"seq", "id", "type", "addr", "amount", "recorded_at", "attributes"}

// EventsCSV builds a CSV export for the supplied journal records and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func EventsCSV(records []storage.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(csvHeader); err != nil {
		return nil, "", err
	}
	for _, record := range records {
		attrs, err := encodeAttributes(record.Attributes)
		if err != nil {
			return nil, "", err
		}
		row := []string{
			strconv.FormatInt(record.Seq, 10),
			record.ID,
			record.Type,
			record.Attributes["addr"],
			record.Attributes["amount"],
			record.RecordedAt.UTC().Format(time.RFC3339Nano),
			attrs,
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
	return data, checksum(data), nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
