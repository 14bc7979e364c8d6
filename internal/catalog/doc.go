// Package catalog defines the product catalog domain types and the
// interfaces shared by the fetch, discovery, extraction and sync subsystems.
package catalog
