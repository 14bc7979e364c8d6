// Package extract turns a product page into a ProductRecord by running an
// ordered chain of strategies (JSON-LD, OpenGraph, embedded SPA state, page
// structure). Earlier strategies win; later ones only fill empty fields.
package extract
