package resolver

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/miekg/dns"
)

var dnsRecordTypes = map[string]uint16{
	"TXT":   dns.TypeTXT,
	"A":     dns.TypeA,
	"AAAA":  dns.TypeAAAA,
	"CNAME": dns.TypeCNAME,
}

// loadDNS resolves dns://[server[:port]]/name?type=TXT. Without a server the
// first nameserver of /etc/resolv.conf is used. The first answer is returned,
// or every answer joined with "," when all=true.
func (r *Resolver) loadDNS(ctx context.Context, u *url.URL, opts Options) (any, error) {
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return nil, fmt.Errorf("missing record name in DNS URI: %s", u.String())
	}

	recordType := strings.ToUpper(u.Query().Get("type"))
	if recordType == "" {
		recordType = "TXT"
	}
	qtype, ok := dnsRecordTypes[recordType]
	if !ok {
		return nil, fmt.Errorf("unsupported DNS record type %q", recordType)
	}

	server := u.Host
	if server == "" {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil || len(conf.Servers) == 0 {
			return nil, fmt.Errorf("no DNS server configured: %v", err)
		}
		server = net.JoinHostPort(conf.Servers[0], conf.Port)
	} else if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true

	c := &dns.Client{Timeout: r.requestTimeout(opts)}
	in, _, err := c.ExchangeContext(ctx, m, server)
	if err != nil {
		return nil, fmt.Errorf("DNS query for %s failed: %w", name, err)
	}
	if in.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("DNS query for %s failed: %s", name, dns.RcodeToString[in.Rcode])
	}

	var values []string
	for _, answer := range in.Answer {
		switch rr := answer.(type) {
		case *dns.TXT:
			values = append(values, strings.Join(rr.Txt, ""))
		case *dns.A:
			values = append(values, rr.A.String())
		case *dns.AAAA:
			values = append(values, rr.AAAA.String())
		case *dns.CNAME:
			values = append(values, strings.TrimSuffix(rr.Target, "."))
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no %s records for %s", recordType, name)
	}

	if u.Query().Get("all") == "true" {
		return strings.Join(values, ","), nil
	}
	return values[0], nil
}
