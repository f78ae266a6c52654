package frontier

import (
	"testing"
)

func TestURLParsing(t *testing.T) {
	tests := []struct {
		tag    string
		input  string
		expect string
	}{
		{
			tag:    "UpCase",
			input:  "HTTP://A.com/page1.html",
			expect: "http://a.com/page1.html",
		},
		{
			tag:    "Fragment",
			input:  "http://a.com/page1.html#Fragment",
			expect: "http://a.com/page1.html",
		},
		{
			tag:    "DefaultPort",
			input:  "http://a.com:80/page1.html",
			expect: "http://a.com/page1.html",
		},
		{
			tag:    "EmbeddedPort",
			input:  "http://a.com:8080/page1.html",
			expect: "http://a.com:8080/page1.html",
		},
	}

	for _, tst := range tests {
		u, err := ParseAndNormalizeURL(tst.input)
		if err != nil {
			t.Fatalf("For tag %q ParseAndNormalizeURL failed %v", tst.tag, err)
		}
		got := u.String()
		if got != tst.expect {
			t.Errorf("For tag %q link mismatch got %q, expected %q", tst.tag, got, tst.expect)
		}
	}
}

func TestURLParsingErrors(t *testing.T) {
	tests := []struct {
		tag   string
		input string
	}{
		{"NoScheme", "a.com/page1.html"},
		{"NoHost", "http:///page1.html"},
		{"Garbage", "http://a b.com/"},
	}

	for _, tst := range tests {
		_, err := ParseURL(tst.input)
		if err == nil {
			t.Errorf("For tag %q expected a parse error, got none", tst.tag)
		}
	}
}

func TestQueueKey(t *testing.T) {
	tests := []struct {
		tag    string
		input  string
		expect string
	}{
		{
			tag:    "Simple",
			input:  "http://www.example.com/index.html",
			expect: "example.com",
		},
		{
			tag:    "PublicSuffix",
			input:  "http://www.bbc.co.uk/news",
			expect: "bbc.co.uk",
		},
		{
			tag:    "DeepSubdomain",
			input:  "http://a.b.c.example.com/",
			expect: "example.com",
		},
		{
			tag:    "UpperHost",
			input:  "http://WWW.Example.COM/",
			expect: "example.com",
		},
		{
			tag:    "IPAddress",
			input:  "http://192.168.0.1:8080/x",
			expect: "192.168.0.1",
		},
		{
			tag:    "BareHost",
			input:  "http://localhost/x",
			expect: "localhost",
		},
	}

	for _, tst := range tests {
		u, err := ParseURL(tst.input)
		if err != nil {
			t.Fatalf("For tag %q ParseURL failed %v", tst.tag, err)
		}
		got := u.QueueKey()
		if got != tst.expect {
			t.Errorf("For tag %q queue key mismatch got %q, expected %q", tst.tag, got, tst.expect)
		}
	}
}
