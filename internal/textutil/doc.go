// Package textutil provides filename sanitization shared by ingestion and the
// CLI. Names are NFC-normalized so uploads from macOS clients (which send NFD)
// store the same bytes as uploads from elsewhere.
package textutil
