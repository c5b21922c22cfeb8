package tables

// DefaultSpec returns the curated built-in tables. Callers get a fresh copy
// and may edit it before compiling.
func DefaultSpec() Spec {
	return Spec{
		// Ordered most specific first; the matched entry becomes the reason detail.
		BotUserAgents: []string{
			"headlesschrome", "headless", "selenium", "webdriver", "puppeteer",
			"playwright", "phantomjs", "slimerjs", "electron",
			"googlebot", "bingbot", "yandexbot", "baiduspider", "duckduckbot",
			"slurp", "applebot", "petalbot", "ahrefsbot", "semrushbot", "mj12bot",
			"dotbot", "bytespider", "gptbot", "ccbot", "claudebot", "perplexitybot",
			"ia_archiver", "lighthouse", "pingdom", "uptimerobot", "gtmetrix",
			"curl/", "wget/", "python-requests", "python-urllib", "aiohttp",
			"go-http-client", "java/", "okhttp", "axios/", "node-fetch",
			"libwww-perl", "httpclient", "scrapy",
			"bot", "crawler", "spider", "scraper",
		},
		SocialApps: []string{
			"musical_ly", "bytedancewebview", "tiktok",
			"fban/", "fbav/", "fb_iab", "instagram",
			"snapchat", "micromessenger", "kakaotalk", "line/",
		},
		InfraVerifiers: []string{
			"adsbot", "mediapartners-google", "google-adwords", "googleadsbot",
			"facebookexternalhit", "facebookcatalog", "meta-externalads",
			"adidxbot", "bingpreview", "pinterestbot",
		},
		EmulatorGPUs: []string{
			"swiftshader", "llvmpipe", "virtualbox", "vmware", "mesa",
			"parallels", "google inc", "bluestacks", "genymotion", "ldplayer",
		},
		RealGPUVendors: []string{
			"apple", "adreno", "mali", "powervr", "nvidia", "amd",
			"intel", "qualcomm", "arm",
		},
		DatacenterIPv4: []string{
			// Google Cloud
			"34.", "35.", "104.154.", "104.196.", "104.197.", "104.198.", "130.211.", "146.148.",
			// AWS
			"3.", "13.", "15.", "18.", "44.", "52.", "54.", "99.77.",
			// Azure
			"20.", "40.", "51.104.", "52.224.", "104.40.", "104.41.", "137.116.", "168.61.",
			// DigitalOcean
			"45.55.", "46.101.", "64.225.", "138.68.", "139.59.", "143.198.", "159.65.", "167.99.", "178.62.",
			// Hetzner
			"5.9.", "78.46.", "88.198.", "95.216.", "116.202.", "135.181.",
			// OVH / Scaleway
			"51.15.", "51.75.", "51.91.", "145.239.", "149.56.", "163.172.", "217.182.",
			// Vultr / Linode
			"45.32.", "45.63.", "45.76.", "66.42.", "108.61.", "149.28.",
			"45.79.", "139.162.", "172.104.", "172.105.",
		},
		DatacenterIPv6: []string{
			"2600:1900:", "2600:1f", "2a05:d0", "2620:107:300",
			"2603:10", "2a01:111:",
			"2a03:b0c0:", "2604:a880:",
			"2a01:4f8:", "2a01:4f9:",
			"2001:41d0:", "2001:19f0:", "2600:3c0",
		},
		CloudflareIPv4: []string{
			"173.245.48.0/20", "103.21.244.0/22", "103.22.200.0/22", "103.31.4.0/22",
			"141.101.64.0/18", "108.162.192.0/18", "190.93.240.0/20", "188.114.96.0/20",
			"197.234.240.0/22", "198.41.128.0/17", "162.158.0.0/15", "104.16.0.0/13",
			"104.24.0.0/14", "172.64.0.0/13", "131.0.72.0/22",
		},
		CloudflareIPv6: []string{
			"2400:cb00::/32", "2606:4700::/32", "2803:f800::/32", "2405:b500::/32",
			"2405:8100::/32", "2a06:98c0::/29", "2c0f:f248::/32",
		},
		TraceHeaders: []string{
			"CF-Ray", "CF-IPCountry", "X-Request-Id", "X-Amzn-Trace-Id",
			"X-Cloud-Trace-Context", "X-TT-Logid", "X-TT-Trace-Id", "X-FB-Debug",
		},
		AdPlatforms: []AdPlatform{
			{
				Name:                "tiktok",
				UASubstrings:        []string{"tiktok", "bytedance"},
				CorroborationTokens: []string{"bot", "crawler", "spider", "review", "audit"},
				VerifierHeaders:     []string{"X-TT-Ads-Review", "X-Tiktok-Ads-Review"},
				ConsoleReferers:     []string{"ads.tiktok.com", "business.tiktok.com"},
			},
			{
				Name:                "google",
				UASubstrings:        []string{"google-ads", "googleads"},
				CorroborationTokens: []string{"bot", "crawler", "preview", "review"},
				ConsoleReferers:     []string{"ads.google.com", "adwords.google.com"},
			},
			{
				Name:                "meta",
				UASubstrings:        []string{"facebookads", "meta-ads"},
				CorroborationTokens: []string{"bot", "crawler", "review"},
				ConsoleReferers:     []string{"adsmanager.facebook.com", "business.facebook.com"},
			},
		},
	}
}

// Default compiles DefaultSpec.
func Default() *Tables {
	return MustNew(DefaultSpec())
}
