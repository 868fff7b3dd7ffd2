package exports

import (
	"bytes"
	"encoding/json"
	"time"

	"stakepool/services/stakingd/storage"
)

// EventsJSONL builds a JSON Lines export for the supplied journal records and
// returns the serialised payload alongside a checksum.
func EventsJSONL(records []storage.Record) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, record := range records {
		attrs := record.Attributes
		if attrs == nil {
			attrs = map[string]string{}
		}
		payload := map[string]interface{}{
			"seq":         record.Seq,
			"id":          record.ID,
			"type":        record.Type,
			"attributes":  attrs,
			"recorded_at": record.RecordedAt.UTC().Format(time.RFC3339Nano),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	return data, checksum(data), nil
}

func encodeAttributes(attrs map[string]string) (string, error) {
	if len(attrs) == 0 {
		return "{}", nil
	}
	// encoding/json sorts map keys, so the column is stable across exports.
	data, err := json.Marshal(attrs)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
