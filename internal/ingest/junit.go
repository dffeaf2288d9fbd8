package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"verdict/api/schemas"
)

// ParseJUnitFile reads failed tests out of a JUnit XML result file. Passing
// and skipped cases are ignored; only cases carrying a <failure> or <error>
// child come back.
func ParseJUnitFile(path string) ([]schemas.FailedTest, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromFile(path); err != nil {
		return nil, fmt.Errorf("read junit file %s: %w", path, err)
	}
	return failedTestsFromDoc(doc)
}

// ParseJUnit reads failed tests out of JUnit XML bytes.
func ParseJUnit(data []byte) ([]schemas.FailedTest, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse junit xml: %w", err)
	}
	return failedTestsFromDoc(doc)
}

func failedTestsFromDoc(doc *etree.Document) ([]schemas.FailedTest, error) {
	var out []schemas.FailedTest
	// Handles both <testsuites> wrappers and bare <testsuite> roots.
	for _, testcase := range doc.FindElements("//testsuite/testcase") {
		fault := testcase.SelectElement("failure")
		if fault == nil {
			fault = testcase.SelectElement("error")
		}
		if fault == nil {
			continue
		}
		out = append(out, failedTestFromCase(testcase, fault))
	}
	return out, nil
}

func failedTestFromCase(testcase, fault *etree.Element) schemas.FailedTest {
	t := schemas.FailedTest{
		Name:         testcase.SelectAttrValue("name", ""),
		ClassName:    testcase.SelectAttrValue("classname", ""),
		ErrorMessage: fault.SelectAttrValue("message", ""),
		StackTrace:   strings.TrimSpace(fault.Text()),
		TestFile:     testcase.SelectAttrValue("file", ""),
	}
	// The body often repeats the message plus the trace; an empty message
	// attribute falls back to the body's first line.
	if t.ErrorMessage == "" && t.StackTrace != "" {
		t.ErrorMessage, _, _ = strings.Cut(t.StackTrace, "\n")
	}
	if seconds, err := strconv.ParseFloat(testcase.SelectAttrValue("time", ""), 64); err == nil {
		t.DurationMS = int64(seconds * 1000)
	}
	return t
}
