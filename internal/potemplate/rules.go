package potemplate

import (
	"fmt"
	"net/mail"
	"strings"
	"time"

	"poflow/internal"
)

var DefaultRequired = []string{"vendorName", "vendorEmail", "projectName"}

var dateLayouts = []string{"2006-01-02", "2006/01/02", "2006.01.02", "20060102", "2006-1-2", "2006/1/2", "2006.1.2"}

// ParseDate accepts the date layouts seen in order sheets.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Check evaluates the business rules for one record. Errors make the record
// invalid; warnings are advisory.
func Check(rec internal.OrderRecord, required []string) (errs []string, warnings []string) {
	for _, key := range required {
		field, _, ok := FieldByKey(key)
		if !ok {
			continue
		}
		if fieldBlank(rec, key) {
			errs = append(errs, field.Label+" required")
		}
	}

	for _, e := range []struct{ label, value string }{
		{"vendor email", rec.VendorEmail},
		{"delivery email", rec.DeliveryEmail},
	} {
		if e.value == "" {
			continue
		}
		if _, err := mail.ParseAddress(e.value); err != nil {
			errs = append(errs, fmt.Sprintf("%s invalid: %s", e.label, e.value))
		}
	}

	for i, item := range rec.Items {
		prefix := ""
		if len(rec.Items) > 1 {
			prefix = fmt.Sprintf("item %d: ", i+1)
		}
		if item.Quantity.IsNegative() {
			errs = append(errs, prefix+"quantity must be non-negative")
		}
		if item.UnitPrice.IsNegative() {
			errs = append(errs, prefix+"unit price must be non-negative")
		}
		if item.TotalAmount.IsNegative() {
			errs = append(errs, prefix+"total amount must be non-negative")
		}
		if item.Quantity.IsZero() && item.ItemName != "" {
			warnings = append(warnings, prefix+"quantity is zero")
		}
	}

	orderDate, orderOK := checkDate(rec.OrderDate, "order date", &errs)
	deliveryDate, deliveryOK := checkDate(rec.DeliveryDate, "delivery date", &errs)
	if orderOK && deliveryOK && deliveryDate.Before(orderDate) {
		warnings = append(warnings, "delivery date precedes order date")
	}

	switch {
	case rec.MinorCategory != "" && rec.MiddleCategory == "":
		errs = append(errs, "minor category set without middle category")
	case rec.MiddleCategory != "" && rec.MajorCategory == "":
		errs = append(errs, "middle category set without major category")
	}
	if rec.MajorCategory == "" {
		warnings = append(warnings, "major category missing")
	}

	return errs, warnings
}

func checkDate(value, label string, errs *[]string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	t, ok := ParseDate(value)
	if !ok {
		*errs = append(*errs, fmt.Sprintf("%s unparseable: %s", label, value))
	}
	return t, ok
}

// ApplyRules recomputes Errors and IsValid for rec.
func ApplyRules(rec *internal.OrderRecord, required []string) {
	errs, _ := Check(*rec, required)
	rec.SetErrors(errs)
}

// Update applies edit to rec and re-runs the rules so IsValid stays in step with Errors.
func Update(rec *internal.OrderRecord, required []string, edit func(*internal.OrderRecord)) {
	edit(rec)
	ApplyRules(rec, required)
}

func fieldBlank(rec internal.OrderRecord, key string) bool {
	switch key {
	case "orderDate":
		return rec.OrderDate == ""
	case "deliveryDate":
		return rec.DeliveryDate == ""
	case "vendorName":
		return rec.VendorName == ""
	case "vendorEmail":
		return rec.VendorEmail == ""
	case "deliveryName":
		return rec.DeliveryName == ""
	case "deliveryEmail":
		return rec.DeliveryEmail == ""
	case "projectName":
		return rec.ProjectName == ""
	case "majorCategory":
		return rec.MajorCategory == ""
	case "middleCategory":
		return rec.MiddleCategory == ""
	case "minorCategory":
		return rec.MinorCategory == ""
	}
	if len(rec.Items) == 0 {
		return true
	}
	for _, item := range rec.Items {
		var v string
		switch key {
		case "itemName":
			v = item.ItemName
		case "specification":
			v = item.Specification
		case "remarks":
			v = item.Remarks
		default:
			// numeric columns always carry a value after parsing
			v = "0"
		}
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}
