package classify

import "github.com/jonathan/visibility-gap/internal/types"

// seeds builds Seed values for a list of domains sharing a category and sponsorship flag.
func seeds(category string, sponsored *bool, domains ...string) []Seed {
	out := make([]Seed, 0, len(domains))
	for _, d := range domains {
		out = append(out, Seed{Domain: d, Category: category, AcceptsSponsored: sponsored})
	}
	return out
}

func concat(groups ...[]Seed) []Seed {
	var out []Seed
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// defaultSeeds is the curated knowledge. Keep each domain in exactly one set.
func defaultSeeds() map[types.DomainType][]Seed {
	yes := types.Bool(true)
	no := types.Bool(false)

	return map[types.DomainType][]Seed{
		types.DomainEditorial: concat(
			seeds("medio", yes,
				"elpais.com", "elmundo.es", "abc.es", "lavanguardia.com", "elconfidencial.com",
				"20minutos.es", "larazon.es", "elperiodico.com", "eldiario.es", "publico.es",
				"huffingtonpost.es", "elespanol.com", "okdiario.com", "libertaddigital.com",
				"lainformacion.com", "vozpopuli.com", "elplural.com", "europapress.es",
				"lasprovincias.es", "diariodesevilla.es", "heraldo.es", "elcorreo.com",
				"lavozdegalicia.es", "ideal.es", "diariovasco.com", "elnortedecastilla.es",
			),
			seeds("economia", yes,
				"expansion.com", "eleconomista.es", "cincodias.com", "invertia.com",
				"elboletin.com", "businessinsider.es", "forbes.es", "capital.es",
				"eleconomista.com.mx", "estrategiasdeinversion.com", "bolsamania.com",
				"finanzas.com", "consumidorglobal.com", "merca2.es",
			),
			seeds("tecnologia", yes,
				"xataka.com", "genbeta.com", "hipertextual.com", "computerhoy.com",
				"elandroidelibre.com", "applesfera.com", "muycomputer.com", "teknautas.com",
			),
			seeds("internacional", nil,
				"nytimes.com", "bbc.com", "bbc.co.uk", "theguardian.com", "reuters.com",
				"bloomberg.com", "ft.com", "wsj.com", "forbes.com", "cnbc.com",
				"techcrunch.com", "theverge.com", "wired.com", "businessinsider.com",
				"economist.com", "washingtonpost.com", "elfinanciero.com.mx",
			),
		),
		types.DomainInstitutional: concat(
			seeds("regulador", no,
				"bde.es", "cnmv.es", "boe.es", "ine.es", "agenciatributaria.es",
				"seg-social.es", "ecb.europa.eu", "europa.eu", "imf.org", "oecd.org",
				"worldbank.org", "un.org", "who.int", "sepe.es", "ocu.org",
			),
		),
		types.DomainUGC: concat(
			seeds("social", no,
				"reddit.com", "quora.com", "youtube.com", "twitter.com", "x.com",
				"facebook.com", "instagram.com", "tiktok.com", "linkedin.com",
				"pinterest.com", "threads.net",
			),
			seeds("foro", no,
				"forocoches.com", "stackoverflow.com", "tripadvisor.es", "tripadvisor.com",
				"burbuja.info", "mediavida.com",
			),
			seeds("plataforma", yes,
				"medium.com", "substack.com", "wordpress.com", "blogspot.com",
			),
		),
		types.DomainAggregator: concat(
			seeds("buscador", no,
				"google.com", "google.es", "bing.com", "yahoo.com", "msn.com",
				"duckduckgo.com", "flipboard.com", "feedly.com", "meneame.net",
			),
			seeds("comparador", yes,
				"kelisto.es", "helpmycash.com", "rastreator.com", "bankimia.com",
				"finanzarel.com", "roams.es", "acierto.com", "idealista.com",
				"trustpilot.com", "rankia.com",
			),
		),
		types.DomainCorporate: concat(
			seeds("saas", no,
				"hubspot.com", "salesforce.com", "semrush.com", "ahrefs.com", "moz.com",
				"similarweb.com", "shopify.com", "mailchimp.com", "notion.so", "canva.com",
				"zendesk.com", "atlassian.com", "slack.com", "stripe.com", "paypal.com",
			),
			seeds("tecnologica", no,
				"microsoft.com", "apple.com", "amazon.com", "amazon.es", "ibm.com",
				"oracle.com", "adobe.com", "openai.com", "anthropic.com", "github.com",
			),
		),
		types.DomainCompetitor: concat(
			seeds("banco", no,
				"bbva.es", "bbva.com", "santander.com", "bancosantander.es", "caixabank.es",
				"caixabank.com", "bankinter.com", "ing.es", "openbank.es", "bancsabadell.com",
				"sabadell.com", "unicajabanco.es", "kutxabank.es", "abanca.com", "ibercaja.es",
				"cajamar.es", "evobanco.com", "myinvestor.es", "revolut.com", "n26.com",
				"wizink.es", "cetelem.es", "bankia.es", "deutsche-bank.es", "triodos.es",
			),
		),
	}
}
