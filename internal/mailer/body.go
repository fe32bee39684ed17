package mailer

import (
	"bytes"
	"html/template"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"poflow/internal/util"
)

var bodyTemplate = template.Must(template.New("po").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: 'Malgun Gothic', Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto;">
<h1>발주서 송부</h1>
<p>안녕하세요,</p>
<p>발주서를 송부드립니다. 첨부된 파일을 확인하여 주시기 바랍니다.</p>
{{if .OrderNumber}}
<table style="width: 100%; border-collapse: collapse;">
<tr><th>발주번호</th><td>{{.OrderNumber}}</td></tr>
{{if .VendorName}}<tr><th>거래처명</th><td>{{.VendorName}}</td></tr>{{end}}
{{if .OrderDate}}<tr><th>발주일자</th><td>{{.OrderDate}}</td></tr>{{end}}
{{if .DueDate}}<tr><th>납기일자</th><td>{{.DueDate}}</td></tr>{{end}}
{{if .Total}}<tr><th>총 금액</th><td><strong>{{.Total}}</strong></td></tr>{{end}}
</table>
{{end}}
{{if .Attachments}}
<h3>첨부파일</h3>
<ul>{{range .Attachments}}<li>{{.}}</li>{{end}}</ul>
{{end}}
{{if .AdditionalMessage}}
<h3>추가 안내사항</h3>
<p>{{.AdditionalMessage}}</p>
{{end}}
<p>발주서 검토 후 확인 회신 부탁드립니다.</p>
<p>감사합니다.</p>
<p class="footer">이 메일은 구매 발주 관리 시스템에서 자동으로 발송되었습니다. 발송 시간: {{.SentAt}}</p>
</body>
</html>
`))

type bodyData struct {
	OrderNumber       string
	VendorName        string
	OrderDate         string
	DueDate           string
	Total             string
	Attachments       []string
	AdditionalMessage string
	SentAt            string
}

// RenderBody returns the HTML body and its plain-text alternative.
func RenderBody(req Request, now time.Time) (string, string, error) {
	data := bodyData{
		OrderNumber:       req.OrderNumber,
		VendorName:        req.VendorName,
		OrderDate:         formatDate(req.OrderDate),
		DueDate:           formatDate(req.DueDate),
		AdditionalMessage: strings.TrimSpace(req.AdditionalMessage),
		SentAt:            now.Format("2006-01-02 15:04"),
	}
	if req.TotalAmount.IsPositive() {
		data.Total = util.FormatKRW(req.TotalAmount)
	}
	for _, a := range req.Attachments {
		data.Attachments = append(data.Attachments, a.name())
	}

	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, data); err != nil {
		return "", "", err
	}
	html := buf.String()
	text, err := htmlToText(html)
	if err != nil {
		return "", "", err
	}
	return html, text, nil
}

func htmlToText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", err
	}
	var lines []string
	doc.Find("h1, h3, p, li, tr").Each(func(_ int, s *goquery.Selection) {
		var line string
		if goquery.NodeName(s) == "tr" {
			line = strings.TrimSpace(s.Find("th").Text()) + ": " + strings.TrimSpace(s.Find("td").Text())
		} else {
			line = strings.Join(strings.Fields(s.Text()), " ")
		}
		if goquery.NodeName(s) == "li" {
			line = "- " + line
		}
		if line != "" {
			lines = append(lines, line)
		}
	})
	return strings.Join(lines, "\n") + "\n", nil
}

func formatDate(s string) string {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Format("2006년 1월 2일")
	}
	return s
}
