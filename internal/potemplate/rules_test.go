package potemplate

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"poflow/internal"
)

func validRecord() internal.OrderRecord {
	return internal.OrderRecord{
		RowIndex:       2,
		OrderDate:      "2024-01-10",
		DeliveryDate:   "2024-01-20",
		VendorName:     "이노에너지",
		VendorEmail:    "contact@innoenergy.co.kr",
		ProjectName:    "강남 현장",
		MajorCategory:  "창호",
		MiddleCategory: "알루미늄",
		Items: []internal.LineItem{{
			ItemName:    "창틀",
			Quantity:    decimal.NewFromInt(2),
			UnitPrice:   decimal.NewFromInt(100),
			TotalAmount: decimal.NewFromInt(200),
		}},
	}
}

func TestValidityInvariantAfterUpdate(t *testing.T) {
	rec := validRecord()
	ApplyRules(&rec, DefaultRequired)
	if !rec.IsValid || len(rec.Errors) != 0 {
		t.Fatalf("initial errors=%v", rec.Errors)
	}

	Update(&rec, DefaultRequired, func(r *internal.OrderRecord) { r.VendorEmail = "" })
	if rec.IsValid || len(rec.Errors) == 0 {
		t.Fatalf("blanked email still valid")
	}

	Update(&rec, DefaultRequired, func(r *internal.OrderRecord) { r.VendorEmail = "x@y.kr" })
	if !rec.IsValid || len(rec.Errors) != 0 {
		t.Fatalf("restored email errors=%v", rec.Errors)
	}
}

func TestCheckRules(t *testing.T) {
	cases := []struct {
		name     string
		edit     func(*internal.OrderRecord)
		wantErr  string
		wantWarn string
	}{
		{name: "negative qty", edit: func(r *internal.OrderRecord) { r.Items[0].Quantity = decimal.NewFromInt(-1) }, wantErr: "quantity must be non-negative"},
		{name: "negative price", edit: func(r *internal.OrderRecord) { r.Items[0].UnitPrice = decimal.NewFromInt(-5) }, wantErr: "unit price must be non-negative"},
		{name: "bad date", edit: func(r *internal.OrderRecord) { r.OrderDate = "next week" }, wantErr: "order date unparseable"},
		{name: "bad email", edit: func(r *internal.OrderRecord) { r.VendorEmail = "not-an-email" }, wantErr: "vendor email invalid"},
		{name: "broken hierarchy", edit: func(r *internal.OrderRecord) { r.MajorCategory = "" }, wantErr: "middle category set without major category"},
		{name: "minor without middle", edit: func(r *internal.OrderRecord) { r.MiddleCategory = ""; r.MinorCategory = "x" }, wantErr: "minor category set without middle category"},
		{name: "late delivery", edit: func(r *internal.OrderRecord) { r.DeliveryDate = "2024-01-01" }, wantWarn: "delivery date precedes order date"},
		{name: "no categories", edit: func(r *internal.OrderRecord) { r.MajorCategory = ""; r.MiddleCategory = "" }, wantWarn: "major category missing"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := validRecord()
			tc.edit(&rec)
			errs, warns := Check(rec, DefaultRequired)
			if tc.wantErr != "" && !containsPrefix(errs, tc.wantErr) {
				t.Fatalf("errors=%v want %q", errs, tc.wantErr)
			}
			if tc.wantErr == "" && len(errs) != 0 {
				t.Fatalf("unexpected errors=%v", errs)
			}
			if tc.wantWarn != "" && !containsPrefix(warns, tc.wantWarn) {
				t.Fatalf("warnings=%v want %q", warns, tc.wantWarn)
			}
		})
	}
}

func containsPrefix(list []string, prefix string) bool {
	for _, v := range list {
		if strings.HasPrefix(v, prefix) {
			return true
		}
	}
	return false
}

func TestGroupOrders(t *testing.T) {
	a := validRecord()
	b := validRecord()
	b.RowIndex = 3
	b.Items = []internal.LineItem{{ItemName: "유리", Quantity: decimal.NewFromInt(1), TotalAmount: decimal.NewFromInt(50)}}
	c := validRecord()
	c.RowIndex = 4
	c.ProjectName = "판교 현장"
	d := validRecord()
	d.RowIndex = 5
	d.VendorEmail = ""
	ApplyRules(&d, DefaultRequired)

	grouped := GroupOrders([]internal.OrderRecord{a, b, c, d})
	if len(grouped) != 2 {
		t.Fatalf("len=%d", len(grouped))
	}
	first := grouped[0]
	if len(first.Items) != 3 {
		t.Fatalf("items=%d", len(first.Items))
	}
	if first.IsValid {
		t.Fatalf("group containing invalid row is valid")
	}
	if len(first.Errors) != 1 || first.Errors[0] != "row 5: vendor email required" {
		t.Fatalf("errors=%v", first.Errors)
	}
	if !first.TotalAmount().Equal(decimal.NewFromInt(450)) {
		t.Fatalf("total=%s", first.TotalAmount())
	}
	if grouped[1].ProjectName != "판교 현장" || !grouped[1].IsValid {
		t.Fatalf("second=%+v", grouped[1])
	}
}
