package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/salesledger/backend/internal/domain/ledger"
	"github.com/salesledger/backend/internal/infrastructure/legacydb"
)

// legacyAliases maps canonical attributes to the column names seen across
// the legacy databases, accents and abbreviations included. Lookup happens
// on normalizeKey output, so "Código Cliente" and "CODIGO_CLIENTE" hit the
// same entry.
var legacyAliases = map[string][]string{
	"orderid":      {"pedido", "numpedido", "nropedido", "numeropedido", "nota", "nf", "numnota", "ordemid"},
	"date":         {"data", "datavenda", "datadavenda", "dtvenda", "dtemissao", "dataemissao", "emissao"},
	"store":        {"loja", "filial", "empresa", "unidade"},
	"product":      {"produto", "descricao", "descprod", "item", "mercadoria", "nomeproduto"},
	"variation":    {"variacao", "tamanho", "grade", "tam"},
	"sku":          {"sku", "codigo", "codprod", "codproduto", "referencia", "ref"},
	"quantity":     {"qtd", "quantidade", "qtde", "qt", "qtdvendida"},
	"total":        {"total", "valortotal", "vlrtotal", "valor", "totalvenda", "vltotal"},
	"unitprice":    {"precounitario", "vlrunit", "precounit", "valorunitario", "preco", "vlunitario"},
	"clientname":   {"cliente", "nomecliente", "razaosocial", "razao"},
	"codcli":       {"codcli", "codcliente", "codigocliente"},
	"nomefantasia": {"fantasia", "nomefantasia"},
	"cnpjcpf":      {"cnpj", "cpf", "cnpjcpf", "documento"},
}

// legacyColumnIndex inverts legacyAliases for direct lookup
var legacyColumnIndex = func() map[string]string {
	index := make(map[string]string)
	for canonical, aliases := range legacyAliases {
		index[canonical] = canonical
		for _, alias := range aliases {
			index[alias] = canonical
		}
	}
	return index
}()

// legacyRow wraps one raw row with canonical-name access
type legacyRow map[string]any

// canonicalizeLegacyRow re-keys a raw row by canonical attribute name.
// Unknown columns are dropped.
func canonicalizeLegacyRow(raw legacydb.RawRow) legacyRow {
	row := make(legacyRow, len(raw))
	for column, value := range raw {
		if canonical, ok := legacyColumnIndex[normalizeKey(column)]; ok {
			row[canonical] = value
		}
	}
	return row
}

// str reads a canonical attribute as trimmed text
func (r legacyRow) str(key string) string {
	value, ok := r[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// amount reads a canonical attribute as decimal, accepting numeric column
// types as well as locale-formatted text.
func (r legacyRow) amount(key string) (decimal.Decimal, error) {
	value, ok := r[key]
	if !ok || value == nil {
		return decimal.Zero, ErrEmptyAmount
	}
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case decimal.Decimal:
		return v, nil
	default:
		return parseAmount(r.str(key))
	}
}

// NormalizeLegacyRows converts rows from the legacy database query. Rows
// missing a parsable date or total are rejected individually. Rows without
// an order identifier receive a synthetic one derived from date and store,
// so one legacy daily summary keeps a stable ledger key across re-imports.
func NormalizeLegacyRows(rows []legacydb.RawRow) Result {
	var result Result

	for i, raw := range rows {
		row := canonicalizeLegacyRow(raw)

		date, err := parseDate(row["date"])
		if err != nil {
			result.reject(i, "date: %v", err)
			continue
		}
		total, err := row.amount("total")
		if err != nil {
			result.reject(i, "total: %v", err)
			continue
		}

		quantity, err := row.amount("quantity")
		if err != nil || quantity.Sign() <= 0 {
			quantity = decimal.NewFromInt(1)
		}
		unitPrice, _ := row.amount("unitprice")

		store := row.str("store")
		orderID := row.str("orderid")
		if orderID == "" {
			orderID = syntheticLegacyOrderID(date, store)
		}

		sku := row.str("sku")
		product := row.str("product")

		result.accept(i, &ledger.SaleRecord{
			OrderID:      orderID,
			Date:         date,
			Store:        store,
			Product:      product,
			Variation:    deriveVariation(row.str("variation"), sku, product),
			SKU:          sku,
			Quantity:     quantity,
			Total:        total,
			UnitPrice:    unitPrice,
			ClientName:   row.str("clientname"),
			CodCli:       row.str("codcli"),
			NomeFantasia: row.str("nomefantasia"),
			CnpjCpf:      row.str("cnpjcpf"),
			Channel:      ledger.SaleChannelAtacado,
		})
	}

	return result
}

// syntheticLegacyOrderID builds a stable identifier for legacy rows that
// never carried one.
func syntheticLegacyOrderID(date time.Time, store string) string {
	if store == "" {
		store = "legado"
	}
	return date.Format("20060102") + "-" + store
}
