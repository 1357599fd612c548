package util

import "strings"

const (
	KakaoSeeMorePadding = 500
	KakaoZeroWidthSpace = "\u200b"
)

// 카카오톡 '전체보기' 접힘: header만 미리보기에 남기고 body는 제로폭 문자 뒤로 민다.
func SeeMore(header, body string) string {
	header = strings.TrimSpace(header)
	if strings.TrimSpace(body) == "" {
		return header
	}
	body = StripLeadingHeader(body, header)

	var b strings.Builder
	b.Grow(len(header) + len(body) + KakaoSeeMorePadding*len(KakaoZeroWidthSpace) + 1)
	b.WriteString(header)
	b.WriteString(strings.Repeat(KakaoZeroWidthSpace, KakaoSeeMorePadding))
	if !strings.HasPrefix(body, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString(body)
	return b.String()
}

// FoldFirstLine uses the first line of text as the visible header.
func FoldFirstLine(text string) string {
	text = strings.TrimSpace(text)
	head, rest, ok := strings.Cut(text, "\n")
	if !ok {
		return text
	}
	return SeeMore(head, rest)
}

// 첫 줄에 중복된 헤더가 있으면 제거한다.
func StripLeadingHeader(text, header string) string {
	if strings.TrimSpace(text) == "" || strings.TrimSpace(header) == "" {
		return text
	}
	for _, sep := range []string{"\r\n\r\n", "\n\n", "\r\n", "\n", ""} {
		if strings.HasPrefix(text, header+sep) {
			return strings.TrimPrefix(text, header+sep)
		}
	}
	return text
}
