package render

import (
	"fmt"
	"math/rand"
	"strings"
)

// Identity is a generated Korean-locale person, used by scripts to fill
// registration-style forms with plausible data.
type Identity struct {
	Name  string
	Email string
	Phone string
	City  string
}

var (
	surnames = []string{
		"김", "이", "박", "최", "정", "강", "조", "윤", "장", "임",
		"한", "오", "서", "신", "권", "황", "안", "송", "전", "홍",
	}
	givenNames = []string{
		"민준", "서연", "도윤", "지우", "하은", "시우", "수아", "예준",
		"지호", "유나", "주원", "채원", "지안", "건우", "서윤", "현우",
		"다은", "우진", "소율", "은우",
	}
	mailDomains = []string{"naver.com", "daum.net", "gmail.com", "kakao.com"}
	cities      = []string{
		"서울", "부산", "인천", "대구", "대전", "광주", "울산", "수원",
		"성남", "고양", "청주", "전주",
	}
)

// newIdentity draws one identity from rng. The same source state always
// yields the same identity.
func newIdentity(rng *rand.Rand) *Identity {
	name := surnames[rng.Intn(len(surnames))] + givenNames[rng.Intn(len(givenNames))]

	user := strings.ToLower(randomASCII(rng, 8))
	email := fmt.Sprintf("%s%02d@%s", user, rng.Intn(100), mailDomains[rng.Intn(len(mailDomains))])

	phone := fmt.Sprintf("010-%04d-%04d", rng.Intn(10000), rng.Intn(10000))

	return &Identity{
		Name:  name,
		Email: email,
		Phone: phone,
		City:  cities[rng.Intn(len(cities))],
	}
}

func randomASCII(rng *rand.Rand, n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rng.Intn(len(letters))]
	}
	return string(b)
}
