package registry

import (
	"fmt"
	"sort"
	"strings"

	"poflow/internal"
	"poflow/internal/util"
)

var fallbackPatterns = []string{
	"㈜삼성전자", "㈜LG전자", "㈜현대자동차", "㈜SK하이닉스", "㈜포스코",
	"㈜삼성물산", "㈜현대건설", "㈜대우건설", "㈜GS건설", "㈜롯데건설",
	"㈜한화시스템", "㈜두산중공업", "㈜코웨이", "㈜아모레퍼시픽", "㈜CJ제일제당",
	"㈜신세계", "㈜롯데마트", "㈜이마트", "㈜홈플러스", "㈜메가마트",
	"테크놀로지㈜", "엔지니어링㈜", "건설㈜", "전자㈜", "시스템㈜",
	"솔루션㈜", "서비스㈜", "컨설팅㈜", "개발㈜", "제조㈜",
}

const (
	fallbackTopK          = 3
	fallbackMinSimilarity = 0.2
)

// FallbackSuggestions ranks the fixed company-name patterns against name.
// Pattern i always carries id -(i+1) so placeholders never collide with
// registry ids.
func FallbackSuggestions(name string) []internal.VendorSuggestion {
	query := util.NormalizeName(name)
	out := make([]internal.VendorSuggestion, 0, fallbackTopK)
	for i, pattern := range fallbackPatterns {
		sim, dist := util.Similarity(query, util.NormalizeName(pattern))
		if sim < fallbackMinSimilarity {
			continue
		}
		out = append(out, internal.VendorSuggestion{
			ID:            int64(-(i + 1)),
			Name:          pattern,
			Email:         fmt.Sprintf("contact@%s.co.kr", strings.ToLower(strings.ReplaceAll(pattern, "㈜", ""))),
			Phone:         "02-0000-0000",
			ContactPerson: "담당자",
			Similarity:    sim,
			Distance:      dist,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].Distance < out[j].Distance
	})
	if len(out) > fallbackTopK {
		out = out[:fallbackTopK]
	}
	return out
}
