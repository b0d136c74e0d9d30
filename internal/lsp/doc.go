// Package lsp decodes the language server responses the explorer consumes:
// document symbols and call hierarchy items. It does not speak the
// protocol itself; a Client performs requests and returns raw JSON results.
//
// Results are decoded with gjson rather than struct unmarshalling because
// servers disagree on shapes: documentSymbol may return hierarchical
// DocumentSymbol values or flat SymbolInformation values, and deprecation
// is reported either through tags or the older boolean field.
package lsp
