// Package errors provides examples of structured error handling in gaiadb.
package errors_test

import (
	"fmt"
	"io"

	"github.com/ajitpratap0/gaiadb/pkg/errors"
)

// Example demonstrates basic error creation with details.
func Example() {
	err := errors.New(errors.ErrorTypeHTTP, "unexpected status 404").
		WithDetail("url", "https://cdn.gea.esa.int/Gaia/gdr3/gaia_source/GaiaSource_000000-003111.csv.gz").
		WithDetail("status", 404)

	fmt.Println(err.Error())

	// Output:
	// http: unexpected status 404
}

// ExampleWrap shows how to wrap a decompression failure.
func ExampleWrap() {
	err := errors.Wrap(io.ErrUnexpectedEOF, errors.ErrorTypeCorrupt, "failed to decompress GaiaSource_000000-003111.csv.gz")

	if errors.IsType(err, errors.ErrorTypeCorrupt) {
		fmt.Println("corrupt payload")
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		fmt.Println("cause is truncated stream")
	}

	// Output:
	// corrupt payload
	// cause is truncated stream
}

// ExampleIsRetryable shows which failures the downloader retries.
func ExampleIsRetryable() {
	reset := errors.New(errors.ErrorTypeConnection, "connection reset by peer")
	notFound := errors.New(errors.ErrorTypeHTTP, "unexpected status 404")

	fmt.Println(errors.IsRetryable(reset))
	fmt.Println(errors.IsRetryable(notFound))

	// Output:
	// true
	// false
}

// Example_errorChain shows how context accumulates across layers.
func Example_errorChain() {
	err := errors.New(errors.ErrorTypeConnection, "connection timeout")
	err = errors.Wrap(err, errors.ErrorTypeData, "failed to parse batch")
	err = errors.Wrap(err, errors.ErrorTypeInternal, "ingestion batch failed")

	fmt.Println(err)
	fmt.Println(errors.IsType(err, errors.ErrorTypeConnection))
	fmt.Println(errors.GetType(err))

	// Output:
	// internal: ingestion batch failed: data: failed to parse batch: connection: connection timeout
	// true
	// internal
}

// ExampleNewf demonstrates configuration validation errors.
func ExampleNewf() {
	err := errors.Newf(errors.ErrorTypeConfig, "invalid column name %q", "phot-g")
	fmt.Println(err)

	// Output:
	// config: invalid column name "phot-g"
}
