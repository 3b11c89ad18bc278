// Copyright (c) 2026 Gatekeep Project
//
// This file is part of go-gatekeep.
//
// go-gatekeep is licensed under the GNU Affero General Public License v3.0.
// See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

// Package rest implements the HTTP API for WebAuthn ceremonies and
// credential management, plus health probes and a metrics endpoint.
package rest
