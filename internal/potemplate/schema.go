package potemplate

// Field is one column of the purchase-order input sheet.
type Field struct {
	Key    string
	Header string
	Label  string
}

const (
	ColOrderDate = iota
	ColDeliveryDate
	ColVendorName
	ColVendorEmail
	ColDeliveryName
	ColDeliveryEmail
	ColProjectName
	ColMajorCategory
	ColMiddleCategory
	ColMinorCategory
	ColItemName
	ColSpecification
	ColQuantity
	ColUnitPrice
	ColTotalAmount
	ColRemarks

	ColumnCount
)

var Columns = [ColumnCount]Field{
	{Key: "orderDate", Header: "발주일자", Label: "order date"},
	{Key: "deliveryDate", Header: "납기일자", Label: "delivery date"},
	{Key: "vendorName", Header: "거래처명", Label: "vendor name"},
	{Key: "vendorEmail", Header: "거래처 이메일", Label: "vendor email"},
	{Key: "deliveryName", Header: "납품처명", Label: "delivery name"},
	{Key: "deliveryEmail", Header: "납품처 이메일", Label: "delivery email"},
	{Key: "projectName", Header: "프로젝트명", Label: "project name"},
	{Key: "majorCategory", Header: "대분류", Label: "major category"},
	{Key: "middleCategory", Header: "중분류", Label: "middle category"},
	{Key: "minorCategory", Header: "소분류", Label: "minor category"},
	{Key: "itemName", Header: "품목명", Label: "item name"},
	{Key: "specification", Header: "규격", Label: "specification"},
	{Key: "quantity", Header: "수량", Label: "quantity"},
	{Key: "unitPrice", Header: "단가", Label: "unit price"},
	{Key: "totalAmount", Header: "총금액", Label: "total amount"},
	{Key: "remarks", Header: "비고", Label: "remarks"},
}

// ExpectedHeader returns the 16 header names in column order.
func ExpectedHeader() []string {
	out := make([]string, len(Columns))
	for i, c := range Columns {
		out[i] = c.Header
	}
	return out
}

func FieldByKey(key string) (Field, int, bool) {
	for i, c := range Columns {
		if c.Key == key {
			return c, i, true
		}
	}
	return Field{}, -1, false
}
