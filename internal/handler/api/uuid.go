package api

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
)

// uuidString formats a pgtype.UUID for JSON responses.
func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	b := id.Bytes
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
