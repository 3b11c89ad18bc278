// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"net/http"
	"strings"
	"time"
)

// automationSuspicionThreshold is the score at or above which a request is
// flagged as likely automated. Flagged requests are logged, never blocked.
const automationSuspicionThreshold = 0.7

var automationToolSubstrings = []string{
	"curl",
	"wget",
	"python-requests",
	"python-urllib",
	"go-http-client",
	"java/",
	"okhttp",
	"headless",
	"phantomjs",
	"selenium",
	"scrapy",
	"bot",
	"spider",
}

// AssessRequestIntegrity fingerprints the request and scores it for
// automation signals. A small random delay is inserted to flatten timing
// side channels; the caller must not hold locks across this call.
func (v *Validator) AssessRequestIntegrity(r *http.Request, clientIP string) *IntegrityContext {
	jitterSleep()

	ictx := &IntegrityContext{
		Fingerprint: fingerprintRequest(r, clientIP),
	}

	score, flags := scoreAutomation(r)
	ictx.AutomationScore = score
	ictx.Flags = flags
	ictx.Suspicious = score >= automationSuspicionThreshold

	if ictx.Suspicious {
		v.logger.SecurityEvent("suspicious_automation", false,
			"client_ip", clientIP,
			"fingerprint", ictx.Fingerprint,
			"score", score,
			"flags", strings.Join(flags, ","))
	}
	return ictx
}

func fingerprintRequest(r *http.Request, clientIP string) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte{0})
	h.Write([]byte(r.URL.Path))
	h.Write([]byte{0})
	h.Write([]byte(r.Header.Get("User-Agent")))
	h.Write([]byte{0})
	h.Write([]byte(r.Header.Get("Accept")))
	h.Write([]byte{0})
	h.Write([]byte(r.Header.Get("Accept-Language")))
	h.Write([]byte{0})
	h.Write([]byte(r.Header.Get("Accept-Encoding")))
	h.Write([]byte{0})
	h.Write([]byte(clientIP))
	return hex.EncodeToString(h.Sum(nil))
}

func scoreAutomation(r *http.Request) (float64, []string) {
	var score float64
	var flags []string

	if r.Header.Get("Accept-Language") == "" {
		score += 0.25
		flags = append(flags, "no_accept_language")
	}
	if r.Header.Get("Accept-Encoding") == "" {
		score += 0.2
		flags = append(flags, "no_accept_encoding")
	}
	if r.Header.Get("Accept") == "" {
		score += 0.15
		flags = append(flags, "no_accept")
	}

	ua := strings.ToLower(r.Header.Get("User-Agent"))
	for _, tool := range automationToolSubstrings {
		if strings.Contains(ua, tool) {
			score += 0.5
			flags = append(flags, "tool_user_agent")
			break
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, flags
}

// jitterSleep pauses 10-50ms so response timing does not distinguish
// validation outcomes.
func jitterSleep() {
	n, err := rand.Int(rand.Reader, big.NewInt(40))
	if err != nil {
		n = big.NewInt(20)
	}
	time.Sleep(time.Duration(10+n.Int64()) * time.Millisecond)
}
