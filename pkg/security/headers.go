// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package security

import "net/http"

const contentSecurityPolicy = "default-src 'self'; script-src 'self'; " +
	"object-src 'none'; frame-ancestors 'none'; base-uri 'self'"

// AddSecurityHeaders writes the hardened response-header set for a ceremony
// endpoint. Ceremony responses carry single-use material and must never be
// cached by intermediaries.
func (v *Validator) AddSecurityHeaders(w http.ResponseWriter, r *http.Request, op Operation) {
	h := w.Header()

	h.Set("Content-Security-Policy", contentSecurityPolicy)
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
	if v.production {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	h.Set("Cache-Control", "no-store, no-cache, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")

	h.Set("X-Gatekeep-Operation", string(op))

	v.addCORSHeaders(h, r)
}

func (v *Validator) addCORSHeaders(h http.Header, r *http.Request) {
	origin := r.Header.Get("Origin")
	if v.production {
		if origin != "" && v.OriginAllowed(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Vary", "Origin")
		}
	} else {
		h.Set("Access-Control-Allow-Origin", "*")
	}
	h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
}
