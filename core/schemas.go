package core

import "tablevault/codec"

// TableSchema lists the table document keys kept in the clear. Names, options,
// grantee emails, filter values, network addresses and comments are encrypted.
var TableSchema = codec.NewSchema("table", 1,
	"_id", "owner_id",
	"type", "required", "unique", "hidden",
	"permission",
	"can_edit", "can_delete", "is_blocked", "rows_per_page_limit",
	"restrict_network", "restrict_working_time",
	"day", "enabled", "start", "end", "family",
	"grantee_index",
	"created_by", "updated_by", "created_at", "updated_at",
)

// RowValuesSchema applies to the values map of a row. Every key is a column
// name, so nothing is kept in the clear.
var RowValuesSchema = codec.NewSchema("row_values", 1)
