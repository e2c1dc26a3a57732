package source

import (
	"time"

	"github.com/sells-group/carefinder-cli/internal/resilience"
	"github.com/sells-group/carefinder-cli/internal/scrape"
)

func fastRetry() resilience.Policy {
	return resilience.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func newTestChain() *scrape.Chain {
	return scrape.NewChain(nil, scrape.NewLocalScraper("carefinder-test", 2*time.Second))
}

const govPage = `<html><head><title>Reproductive Health | California Department of Public Health</title></head>
<body><header><h1>CDPH</h1></header><nav><ul><li>Home</li><li>About</li></ul></nav>
<main>
<h2>Current Restrictions</h2>
<ul><li>No abortion after viability.</li><li>Public   funding limited.</li></ul>
<h2>Patient Requirements</h2>
<ul><li>Parental consent for minors under 16.</li></ul>
<h2>Recent Updates</h2>
<ul><li>March 3, 2024: Shield law expanded.</li><li><time datetime="2023-06-01">June 2023</time> Telehealth protections signed.</li></ul>
<h2>Official Documents</h2>
<ul><li><a href="/docs/hsc-123.pdf">Health and Safety Code 123</a></li><li><a href="https://leginfo.example.gov/reg">Title 22 Regulation</a></li></ul>
<h2>Resources</h2>
<ul><li><a href="https://help.example.org">Help Line</a> - free legal advice</li></ul>
<h2>Emergency Contacts</h2>
<ul><li>Crisis Line: (800) 555-1212</li><li>No phone here</li></ul>
</main>
<footer><div class="contact">Call (916) 555-0100 or <a href="mailto:info@cdph.example.gov?subject=hi">email us</a></div></footer>
</body></html>`
