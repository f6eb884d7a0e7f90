package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/dshills/catalog-mcp/internal/observability"
	"github.com/dshills/catalog-mcp/pkg/types"
)

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// rowScanner is implemented by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// tableSpec maps an entity kind onto its table and column names
type tableSpec struct {
	table    string
	code     string
	name     string
	group    string
	subGroup string
}

var tableSpecs = map[types.EntityKind]tableSpec{
	types.KindProduct: {
		table:    "products",
		code:     "headcode",
		name:     "product_name",
		group:    "category",
		subGroup: "sub_category",
	},
	types.KindMaterial: {
		table:    "materials",
		code:     "id_sap",
		name:     "material_name",
		group:    "material_group",
		subGroup: "material_subgroup",
	},
}

func specFor(kind types.EntityKind) (tableSpec, error) {
	spec, ok := tableSpecs[kind]
	if !ok {
		return tableSpec{}, fmt.Errorf("%w: %q", types.ErrInvalidEntityKind, kind)
	}
	return spec, nil
}

// columns returns the uniform select list scanned by scanEntity. Both
// tables expose the same eleven columns; missing ones are selected as NULL.
func (t tableSpec) columns(alias string, withVector bool) string {
	p := ""
	if alias != "" {
		p = alias + "."
	}
	vec := "NULL"
	if withVector {
		vec = p + "description_embedding"
	}
	if t.table == "products" {
		return fmt.Sprintf("%[1]sheadcode, %[1]sproduct_name, %[1]scategory, %[1]ssub_category, "+
			"%[1]smaterial_primary, %[1]sproject, %[1]sproject_id, %[1]sunit, %[1]simage_url, NULL, %[2]s", p, vec)
	}
	return fmt.Sprintf("%[1]sid_sap, %[1]smaterial_name, %[1]smaterial_group, %[1]smaterial_subgroup, "+
		"NULL, NULL, NULL, %[1]sunit, %[1]simage_url, %[1]smaterial_subprice, %[2]s", p, vec)
}

// dialect captures the few differences between the SQLite and Postgres SQL
type dialect struct {
	name         string
	dollarParams bool
	vectorCast   string
	encodeVector func([]float32) interface{}
	decodeVector func([]byte) []float32
}

var sqliteDialect = dialect{
	name: "sqlite",
	encodeVector: func(v []float32) interface{} {
		if len(v) == 0 {
			return nil
		}
		return serializeVector(v)
	},
	decodeVector: deserializeVector,
}

var postgresDialect = dialect{
	name:         "postgres",
	dollarParams: true,
	vectorCast:   "::vector",
	encodeVector: func(v []float32) interface{} {
		if len(v) == 0 {
			return nil
		}
		return toVectorLiteral(v)
	},
	decodeVector: func(b []byte) []float32 {
		v, err := parseVectorLiteral(string(b))
		if err != nil {
			return nil
		}
		return v
	},
}

// rebind rewrites ? placeholders into $n for Postgres
func (d dialect) rebind(query string) string {
	if !d.dollarParams {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// vectorParam is the placeholder for a vector argument
func (d dialect) vectorParam() string {
	return "?" + d.vectorCast
}

// scanEntity scans the uniform column list produced by tableSpec.columns,
// followed by any extra destinations
func scanEntity(sc rowScanner, kind types.EntityKind, d dialect, log *observability.Logger, extra ...interface{}) (types.Entity, error) {
	var (
		code   string
		cols   [9]sql.NullString
		vector []byte
	)
	dest := []interface{}{&code}
	for i := range cols {
		dest = append(dest, &cols[i])
	}
	dest = append(dest, &vector)
	dest = append(dest, extra...)
	if err := sc.Scan(dest...); err != nil {
		return types.Entity{}, err
	}

	e := types.Entity{
		Kind:            kind,
		Code:            code,
		Name:            cols[0].String,
		Group:           cols[1].String,
		SubGroup:        cols[2].String,
		PrimaryMaterial: cols[3].String,
		Project:         cols[4].String,
		ProjectID:       cols[5].String,
		Unit:            cols[6].String,
		ImageURL:        cols[7].String,
	}
	if len(vector) > 0 {
		e.Vector = d.decodeVector(vector)
	}
	if prices := cols[8]; prices.Valid {
		history, err := types.ParsePriceHistory(prices.String)
		if err != nil {
			log.Warn().Str("id_sap", code).Err(err).Msg("malformed price history, treating as empty")
		}
		e.Prices = history
	}
	return e, nil
}

// inClause returns "(?,?,?)" for n arguments
func inClause(n int) string {
	if n <= 0 {
		return "(NULL)"
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?,", n), ",") + ")"
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
