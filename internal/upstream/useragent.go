package upstream

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// Mobile User-Agent template pool (§4.B.4), enumerating the same stable set
// of (OS, browser family, version) combinations as the original's
// generate_random_mobile_user_agent: three Android templates and three iOS
// templates. Selection uses crypto/rand rather than a PRNG — a fully
// trusted, non-adversarial internal use of randomness, consistent with how
// the teacher sources its own OTP randomness.
const (
	uaAndroidChrome  = "Mozilla/5.0 (Linux; Android %s; %s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Mobile Safari/537.36"
	uaAndroidFirefox = "Mozilla/5.0 (Android %s; Mobile; rv:%s) Gecko/%s Firefox/%s"
	uaAndroidSamsung = "Mozilla/5.0 (Linux; Android %s; %s) AppleWebKit/537.36 (KHTML, like Gecko) SamsungBrowser/%s Chrome/%s Mobile Safari/537.36"
	uaIOSSafari      = "Mozilla/5.0 (iPhone; CPU iPhone OS %s like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Mobile/15E148 Safari/604.1"
	uaIOSChrome      = "Mozilla/5.0 (iPhone; CPU iPhone OS %s like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/%s Mobile/15E148 Safari/604.1"
	uaIOSFirefox     = "Mozilla/5.0 (iPhone; CPU iPhone OS %s like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) FxiOS/%s Mobile/15E148 Safari/605.1.15"
)

var androidDevices = []string{
	"SM-G991B", "SM-A526B", "SM-S901U", "Pixel 7", "Pixel 6a",
	"Redmi Note 10 Pro", "OnePlus 9", "Xiaomi 12", "Moto G Power", "SAMSUNG SM-A515F",
}

var androidVersions = []string{"10", "11", "12", "13", "14"}
var iosVersions = []string{"15_6", "16_0", "16_5", "17_0", "17_3"}
var chromeVersions = []string{"110.0.5481.153", "112.0.5615.48", "114.0.5735.90", "116.0.5845.92", "118.0.5993.89"}
var firefoxVersions = []string{"110.1", "111.0", "112.1", "113.0", "114.2"}
var firefoxGeckoRevs = []string{"20100101", "20220227", "20230812"}
var safariVersions = []string{"15.6", "16.0", "16.5", "17.0", "17.3"}
var samsungVersions = []string{"17.0", "18.0", "19.0", "20.0", "21.0"}

// GenerateMobileUserAgent returns a randomized mobile User-Agent drawn from
// the fixed template pool. Used whenever a caller does not supply an
// explicit user_agent (§4.B.4).
func GenerateMobileUserAgent() string {
	switch pick(6) {
	case 0:
		return fmt.Sprintf(uaAndroidChrome, pickOf(androidVersions), pickOf(androidDevices), pickOf(chromeVersions))
	case 1:
		return fmt.Sprintf(uaAndroidFirefox, pickOf(androidVersions), pickOf(firefoxVersions), pickOf(firefoxGeckoRevs), pickOf(firefoxVersions))
	case 2:
		return fmt.Sprintf(uaAndroidSamsung, pickOf(androidVersions), pickOf(androidDevices), pickOf(samsungVersions), pickOf(chromeVersions))
	case 3:
		return fmt.Sprintf(uaIOSSafari, pickOf(iosVersions), pickOf(safariVersions))
	case 4:
		return fmt.Sprintf(uaIOSChrome, pickOf(iosVersions), pickOf(chromeVersions))
	default:
		return fmt.Sprintf(uaIOSFirefox, pickOf(iosVersions), pickOf(firefoxVersions))
	}
}

// pick returns a uniform random int in [0, n). Falls back to 0 on an
// exhausted entropy source, which never happens in practice.
func pick(n int64) int64 {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0
	}
	return v.Int64()
}

func pickOf(options []string) string {
	return options[pick(int64(len(options)))]
}
