package syncengine

import (
	"fmt"
	"strings"
	"time"

	"github.com/mrMistryRohit/creditbook-trimplin-sub000/eventbus"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/remotestore"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/utils"
	"github.com/shopspring/decimal"
)

// TableName identifies a syncable table. The local table and the remote collection share it.
type TableName string

const (
	Businesses           TableName = models.TableBusinesses
	Customers            TableName = models.TableCustomers
	Suppliers            TableName = models.TableSuppliers
	InventoryItems       TableName = models.TableInventoryItems
	Transactions         TableName = models.TableTransactions
	SupplierTransactions TableName = models.TableSupplierTransactions
	Bills                TableName = models.TableBills
	BillItems            TableName = models.TableBillItems
)

type FieldKind int

const (
	KindString FieldKind = iota
	KindDecimal
	KindBool
	KindInt
	KindTime
)

type Field struct {
	Column string
	Kind   FieldKind
}

// ParentRef is a local foreign key and the remote field carrying the parent's remote id.
type ParentRef struct {
	Column      string
	RemoteField string
	Table       TableName
	Optional    bool
}

// Table describes how one table crosses the sync boundary.
type Table struct {
	Name       TableName
	Topic      eventbus.Topic
	Parents    []ParentRef
	Fields     []Field
	NaturalKey []string

	passthrough bool
}

var (
	businessParent = ParentRef{Column: "business_id", RemoteField: "business_firestore_id", Table: Businesses}
	customerParent = ParentRef{Column: "customer_id", RemoteField: "customer_firestore_id", Table: Customers}
	supplierParent = ParentRef{Column: "supplier_id", RemoteField: "supplier_firestore_id", Table: Suppliers}
	billParent     = ParentRef{Column: "bill_id", RemoteField: "bill_firestore_id", Table: Bills}
	inventoryRef   = ParentRef{Column: "inventory_id", RemoteField: "inventory_firestore_id", Table: InventoryItems, Optional: true}
)

var contactFields = []Field{
	{Column: "name", Kind: KindString},
	{Column: "phone", Kind: KindString},
	{Column: "address", Kind: KindString},
	{Column: "balance", Kind: KindDecimal},
	{Column: "is_archived", Kind: KindBool},
}

var ledgerFields = []Field{
	{Column: "amount", Kind: KindDecimal},
	{Column: "transaction_type", Kind: KindString},
	{Column: "note", Kind: KindString},
	{Column: "transaction_date", Kind: KindTime},
}

// registry is in upload/download order: parents always precede children.
var registry = []Table{
	{
		Name:  Businesses,
		Topic: eventbus.TopicBusinessUpdated,
		Fields: []Field{
			{Column: "user_id", Kind: KindString},
			{Column: "name", Kind: KindString},
			{Column: "owner_name", Kind: KindString},
			{Column: "phone", Kind: KindString},
			{Column: "address", Kind: KindString},
			{Column: "is_default", Kind: KindBool},
		},
		NaturalKey: []string{"user_id", "name"},
	},
	{
		Name:       Customers,
		Topic:      eventbus.TopicCustomerUpdated,
		Parents:    []ParentRef{businessParent},
		Fields:     contactFields,
		NaturalKey: []string{"business_id", "name"},
	},
	{
		Name:       Suppliers,
		Topic:      eventbus.TopicSupplierUpdated,
		Parents:    []ParentRef{businessParent},
		Fields:     contactFields,
		NaturalKey: []string{"business_id", "name"},
	},
	{
		Name:    InventoryItems,
		Topic:   eventbus.TopicInventoryUpdated,
		Parents: []ParentRef{businessParent},
		Fields: []Field{
			{Column: "name", Kind: KindString},
			{Column: "sku", Kind: KindString},
			{Column: "unit", Kind: KindString},
			{Column: "quantity", Kind: KindDecimal},
			{Column: "purchase_price", Kind: KindDecimal},
			{Column: "sale_price", Kind: KindDecimal},
			{Column: "is_archived", Kind: KindBool},
		},
		NaturalKey: []string{"business_id", "name"},
	},
	{
		Name:       Transactions,
		Topic:      eventbus.TopicTransactionUpdated,
		Parents:    []ParentRef{customerParent},
		Fields:     ledgerFields,
		NaturalKey: []string{"customer_id", "transaction_type", "amount", "transaction_date"},
	},
	{
		Name:       SupplierTransactions,
		Topic:      eventbus.TopicSupplierTransactionUpdated,
		Parents:    []ParentRef{supplierParent},
		Fields:     ledgerFields,
		NaturalKey: []string{"supplier_id", "transaction_type", "amount", "transaction_date"},
	},
	{
		Name:    Bills,
		Topic:   eventbus.TopicBillUpdated,
		Parents: []ParentRef{businessParent, customerParent},
		Fields: []Field{
			{Column: "bill_number", Kind: KindString},
			{Column: "bill_date", Kind: KindTime},
			{Column: "sub_total", Kind: KindDecimal},
			{Column: "discount", Kind: KindDecimal},
			{Column: "tax", Kind: KindDecimal},
			{Column: "total", Kind: KindDecimal},
			{Column: "paid_amount", Kind: KindDecimal},
			{Column: "notes", Kind: KindString},
		},
		NaturalKey: []string{"business_id", "customer_id", "bill_number"},
	},
	{
		Name:    BillItems,
		Topic:   eventbus.TopicBillUpdated,
		Parents: []ParentRef{billParent, inventoryRef},
		Fields: []Field{
			{Column: "item_name", Kind: KindString},
			{Column: "quantity", Kind: KindDecimal},
			{Column: "rate", Kind: KindDecimal},
			{Column: "total", Kind: KindDecimal},
		},
		NaturalKey: []string{"bill_id", "item_name", "quantity", "rate", "total"},
	},
}

var registryIndex = func() map[TableName]int {
	idx := make(map[TableName]int, len(registry))
	for i, t := range registry {
		idx[t.Name] = i
	}
	return idx
}()

// Tables returns every syncable table in dependency order.
func Tables() []Table {
	return append([]Table(nil), registry...)
}

func Lookup(name TableName) (Table, error) {
	i, ok := registryIndex[name]
	if !ok {
		return Table{}, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	return registry[i], nil
}

// Passthrough is the generic mapping for tables the registry does not know yet.
func Passthrough(name TableName) Table {
	return Table{Name: name, passthrough: true}
}

// Resolve returns the registered table, or Passthrough for unknown names.
func Resolve(name TableName) Table {
	if t, err := Lookup(name); err == nil {
		return t
	}
	return Passthrough(name)
}

func (t Table) IsPassthrough() bool {
	return t.passthrough
}

// OwnerChain follows required parents up to businesses, whose user_id is the tenant.
func (t Table) OwnerChain() ([]models.OwnerHop, error) {
	var chain []models.OwnerHop
	cur := t
	for cur.Name != Businesses {
		ref, ok := cur.requiredParent()
		if !ok {
			return nil, fmt.Errorf("%s has no owning parent", cur.Name)
		}
		chain = append(chain, models.OwnerHop{Column: ref.Column, Table: string(ref.Table)})
		next, err := Lookup(ref.Table)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return chain, nil
}

func (t Table) requiredParent() (ParentRef, bool) {
	for _, p := range t.Parents {
		if !p.Optional {
			return p, true
		}
	}
	return ParentRef{}, false
}

func (t Table) Parent(column string) (ParentRef, bool) {
	for _, p := range t.Parents {
		if p.Column == column {
			return p, true
		}
	}
	return ParentRef{}, false
}

func (t Table) field(column string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Column == column {
			return f, true
		}
	}
	return Field{}, false
}

// kindOf returns the comparison kind for a natural-key column. Parent columns are ints.
func (t Table) kindOf(column string) FieldKind {
	if _, ok := t.Parent(column); ok {
		return KindInt
	}
	if f, ok := t.field(column); ok {
		return f.Kind
	}
	return KindString
}

var syncColumns = map[string]bool{
	models.ColumnID:         true,
	models.ColumnRemoteID:   true,
	models.ColumnSyncStatus: true,
	models.ColumnCreatedAt:  true,
	models.ColumnUpdatedAt:  true,
}

// ToRemote shapes a local row into a remote document. parentRemoteIDs maps local parent
// columns to the parents' remote ids; local ids never leave the device.
func (t Table) ToRemote(row models.Row, parentRemoteIDs map[string]string, tenant string) map[string]interface{} {
	doc := make(map[string]interface{}, len(t.Fields)+len(t.Parents)+1)
	if t.passthrough {
		for k, v := range row {
			if syncColumns[k] || remotestore.IsReservedKey(k) {
				continue
			}
			doc[k] = remoteValue(v)
		}
	} else {
		for _, f := range t.Fields {
			doc[f.Column] = toRemoteValue(f.Kind, row[f.Column])
		}
		for _, p := range t.Parents {
			if id, ok := parentRemoteIDs[p.Column]; ok && id != "" {
				doc[p.RemoteField] = id
			} else if p.Optional {
				doc[p.RemoteField] = nil
			}
		}
	}
	doc[remotestore.FieldOwner] = tenant
	return doc
}

// ToLocal shapes a stripped remote payload into local data columns. Parent references
// and sync columns are filled in by the caller.
func (t Table) ToLocal(payload map[string]interface{}) (models.Row, error) {
	row := make(models.Row, len(t.Fields))
	if t.passthrough {
		for k, v := range payload {
			if syncColumns[k] {
				continue
			}
			row[k] = v
		}
		return row, nil
	}
	for _, f := range t.Fields {
		v, ok := payload[f.Column]
		if !ok {
			continue
		}
		lv, err := toLocalValue(f.Kind, v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", t.Name, f.Column, err)
		}
		row[f.Column] = lv
	}
	return row, nil
}

func remoteValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC()
	}
	return v
}

func toRemoteValue(kind FieldKind, v interface{}) interface{} {
	if v == nil {
		return nil
	}
	switch kind {
	case KindDecimal:
		d, err := utils.ToDecimal(v)
		if err != nil {
			return nil
		}
		return d.InexactFloat64()
	case KindBool:
		return utils.ToBool(v)
	case KindInt:
		n, ok := utils.ToInt(v)
		if !ok {
			return nil
		}
		return int64(n)
	case KindTime:
		tm, ok := utils.ToTime(v)
		if !ok {
			return nil
		}
		return tm.UTC()
	default:
		return utils.ToString(v)
	}
}

func toLocalValue(kind FieldKind, v interface{}) (interface{}, error) {
	if v == nil {
		switch kind {
		case KindDecimal:
			return decimal.Zero, nil
		case KindBool:
			return false, nil
		case KindString:
			return "", nil
		}
		return nil, nil
	}
	switch kind {
	case KindDecimal:
		return utils.ToDecimal(v)
	case KindBool:
		return utils.ToBool(v), nil
	case KindInt:
		n, ok := utils.ToInt(v)
		if !ok {
			return nil, fmt.Errorf("not an integer: %v", v)
		}
		return n, nil
	case KindTime:
		tm, ok := utils.ToTime(v)
		if !ok {
			return nil, fmt.Errorf("not a timestamp: %v", v)
		}
		return tm.UTC(), nil
	default:
		return strings.TrimSpace(utils.ToString(v)), nil
	}
}

// sameValue compares two column values as kind.
func sameValue(kind FieldKind, a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch kind {
	case KindDecimal:
		da, errA := utils.ToDecimal(a)
		db, errB := utils.ToDecimal(b)
		return errA == nil && errB == nil && da.Equal(db)
	case KindBool:
		return utils.ToBool(a) == utils.ToBool(b)
	case KindInt:
		na, okA := utils.ToInt(a)
		nb, okB := utils.ToInt(b)
		return okA && okB && na == nb
	case KindTime:
		ta, okA := utils.ToTime(a)
		tb, okB := utils.ToTime(b)
		return okA && okB && ta.Equal(tb)
	default:
		return strings.TrimSpace(utils.ToString(a)) == strings.TrimSpace(utils.ToString(b))
	}
}
