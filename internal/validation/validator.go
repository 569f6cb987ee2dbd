// Package validation is the entity-aware gate applied before a mutation is
// admitted to the sync queue, and again immediately before replay (the data
// may have aged between the two).
//
// Each (entityType, action) pair has one closed payload schema. Anything that
// does not deserialize into its schema, or fails the schema's structural and
// business rules, is rejected with field-level errors instead of reaching a
// synchronizer.
package validation

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/chainsyncstore/chainsync-golang/internal/models"
	"github.com/go-playground/validator/v10"
)

// --- Payload Schemas ---

// TransactionLine is one sold line inside a transaction create payload.
type TransactionLine struct {
	ProductID string  `json:"productId" validate:"required"`
	Quantity  int     `json:"quantity" validate:"required,gt=0"`
	UnitPrice float64 `json:"unitPrice" validate:"gte=0"`
}

// TransactionCreate is the payload for (transaction, create).
// ClientRef is the terminal-assigned local id used for duplicate detection.
type TransactionCreate struct {
	ClientRef  string            `json:"clientRef"`
	Total      float64           `json:"total" validate:"gte=0"`
	Payment    string            `json:"paymentMethod" validate:"omitempty,oneof=cash card mobile"`
	Items      []TransactionLine `json:"items" validate:"required,min=1,dive"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// TransactionUpdate is the payload for (transaction, update).
type TransactionUpdate struct {
	Total   *float64 `json:"total" validate:"omitempty,gte=0"`
	Payment *string  `json:"paymentMethod" validate:"omitempty,oneof=cash card mobile"`
}

// TransactionDelete is the payload for (transaction, delete). The target is
// named by the queue item's entityId; the payload carries nothing.
type TransactionDelete struct{}

// InventoryCreate is the payload for (inventory, create).
type InventoryCreate struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=0"`
}

// InventoryUpdate is the payload for (inventory, update). PreviousQuantity is
// the stock level the client observed before its edit; it is the
// pre-divergence baseline the conflict resolver merges against.
type InventoryUpdate struct {
	ProductID        string `json:"productId" validate:"required"`
	Quantity         int    `json:"quantity" validate:"gte=0"`
	PreviousQuantity *int   `json:"previousQuantity" validate:"omitempty,gte=0"`
}

// InventoryDelete is the payload for (inventory, delete).
type InventoryDelete struct {
	ProductID string `json:"productId" validate:"required"`
}

// ProductCreate is the payload for (product, create).
type ProductCreate struct {
	Name    string  `json:"name" validate:"required"`
	SKU     string  `json:"sku"`
	Barcode string  `json:"barcode"`
	Price   float64 `json:"price" validate:"gte=0"`
}

// ProductUpdate is the payload for (product, update).
type ProductUpdate struct {
	Name    *string  `json:"name" validate:"omitempty,min=1"`
	Barcode *string  `json:"barcode"`
	Price   *float64 `json:"price" validate:"omitempty,gte=0"`
}

// ProductDelete is the payload for (product, delete).
type ProductDelete struct{}

// --- Validator ---

type schemaKey struct {
	entity models.EntityType
	action models.SyncAction
}

// schemas is the closed set of admissible (entityType, action) payloads.
var schemas = map[schemaKey]func() interface{}{
	{models.EntityTransaction, models.ActionCreate}: func() interface{} { return &TransactionCreate{} },
	{models.EntityTransaction, models.ActionUpdate}: func() interface{} { return &TransactionUpdate{} },
	{models.EntityTransaction, models.ActionDelete}: func() interface{} { return &TransactionDelete{} },
	{models.EntityInventory, models.ActionCreate}:   func() interface{} { return &InventoryCreate{} },
	{models.EntityInventory, models.ActionUpdate}:   func() interface{} { return &InventoryUpdate{} },
	{models.EntityInventory, models.ActionDelete}:   func() interface{} { return &InventoryDelete{} },
	{models.EntityProduct, models.ActionCreate}:     func() interface{} { return &ProductCreate{} },
	{models.EntityProduct, models.ActionUpdate}:     func() interface{} { return &ProductUpdate{} },
	{models.EntityProduct, models.ActionDelete}:     func() interface{} { return &ProductDelete{} },
}

// Result is the outcome of one validation pass. When Valid is true, Payload
// holds the decoded, schema-typed payload for the matching synchronizer.
type Result struct {
	Valid   bool
	Errors  []string
	Payload interface{}
}

// Validator runs structural checks and business invariants against the closed
// payload schemas.
type Validator struct {
	validate *validator.Validate
}

// New returns a Validator ready for use. Field errors are reported under the
// JSON name the client actually sent, not the Go struct field name.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// Validate checks the raw payload of one queued mutation against its
// (entityType, action) schema. Unknown entity types or actions are rejected
// rather than passed through opaque.
func (v *Validator) Validate(entity models.EntityType, action models.SyncAction, data json.RawMessage) Result {
	build, ok := schemas[schemaKey{entity, action}]
	if !ok {
		return Result{Errors: []string{fmt.Sprintf("unsupported entity/action pair: %s/%s", entity, action)}}
	}

	payload := build()
	if len(data) > 0 {
		if err := json.Unmarshal(data, payload); err != nil {
			return Result{Errors: []string{fmt.Sprintf("data: malformed payload for %s %s", entity, action)}}
		}
	}

	if err := v.validate.Struct(payload); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return Result{Errors: []string{err.Error()}}
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fieldMessage(fe))
		}
		return Result{Errors: msgs}
	}

	return Result{Valid: true, Payload: payload}
}

// fieldMessage turns a validator field error into a user-facing message,
// e.g. "quantity: must be 0 or greater".
func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s: is required", field)
	case "gte":
		return fmt.Sprintf("%s: must be %s or greater", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s: must be greater than %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s: must have at least %s entries", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s]", field, fe.Param())
	default:
		return fmt.Sprintf("%s: failed %s validation", field, fe.Tag())
	}
}
