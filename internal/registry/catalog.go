package registry

import (
	"time"

	"github.com/pricelens/harvest/pkg/types"
)

// builtinCatalog returns the seed catalog of supported retailers,
// organized into three priority tiers. Selector lists are ordered
// fallbacks; sites change markup frequently, so each field carries the
// current selector first and older generations behind it.
func builtinCatalog() []*RetailerConfig {
	return []*RetailerConfig{
		// Tier 1
		{
			Key:      "amazon",
			Name:     "Amazon",
			Domain:   "amazon.com",
			Category: types.CategoryGeneral,
			Priority: types.PriorityHigh,
			Selectors: map[string][]string{
				"container":    {"div[data-component-type='s-search-result']", "div.s-result-item"},
				"title":        {"h2 a span", "h2 span.a-text-normal", "span.a-size-medium"},
				"price":        {"span.a-price > span.a-offscreen", "span.a-price-whole"},
				"rating":       {"span.a-icon-alt", "i.a-icon-star-small span"},
				"availability": {"span.a-color-success", "span.a-color-price"},
				"image":        {"img.s-image"},
				"link":         {"h2 a", "a.a-link-normal.s-no-outline"},
			},
			SearchURLTemplate: "https://www.amazon.com/s?k={query}&ref=sr_pg_{page}",
			BaseURL:           "https://www.amazon.com",
			RateLimit:         3 * time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        true,
			AntiBotMeasures:   []string{"captcha", "robot check", "api-services-support@amazon.com"},
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},
		{
			Key:      "walmart",
			Name:     "Walmart",
			Domain:   "walmart.com",
			Category: types.CategoryGeneral,
			Priority: types.PriorityHigh,
			Selectors: map[string][]string{
				"container":    {"div[data-item-id]", "div.search-result-gridview-item"},
				"title":        {"span[data-automation-id='product-title']", "a.product-title-link span"},
				"price":        {"div[data-automation-id='product-price'] span.f2", "span.price-main"},
				"rating":       {"span.w_iUH7", "span.stars-reviews-count"},
				"availability": {"div[data-automation-id='fulfillment-badge']"},
				"image":        {"img[data-testid='productTileImage']", "img.product-image-photo"},
				"link":         {"a[link-identifier]", "a.product-title-link"},
			},
			SearchURLTemplate: "https://www.walmart.com/search?q={query}&page={page}",
			BaseURL:           "https://www.walmart.com",
			RateLimit:         2 * time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        true,
			AntiBotMeasures:   []string{"captcha", "px-captcha", "robot or human"},
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},
		{
			Key:      "target",
			Name:     "Target",
			Domain:   "target.com",
			Category: types.CategoryGeneral,
			Priority: types.PriorityHigh,
			Selectors: map[string][]string{
				"container":    {"div[data-test='product-card']", "div.styles__StyledCol-sc-fw90uk-0"},
				"title":        {"a[data-test='product-title']"},
				"price":        {"span[data-test='current-price']", "div[data-test='product-price']"},
				"rating":       {"span[data-test='ratings']"},
				"availability": {"div[data-test='fulfillment']"},
				"image":        {"picture img"},
				"link":         {"a[data-test='product-title']"},
			},
			SearchURLTemplate: "https://www.target.com/s?searchTerm={query}&Nao={page}",
			BaseURL:           "https://www.target.com",
			RateLimit:         2 * time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        true,
			AntiBotMeasures:   []string{"security challenge"},
			RequiredStrategy:  types.StrategyStealthBrowser,
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},
		{
			Key:      "bestbuy",
			Name:     "Best Buy",
			Domain:   "bestbuy.com",
			Category: types.CategoryElectronics,
			Priority: types.PriorityHigh,
			Selectors: map[string][]string{
				"container":    {"li.sku-item", "div.shop-sku-list-item"},
				"title":        {"h4.sku-title a", "h4.sku-header a"},
				"price":        {"div.priceView-customer-price span", "div.priceView-hero-price span"},
				"rating":       {"div.c-ratings-reviews p.visually-hidden"},
				"availability": {"button.add-to-cart-button"},
				"image":        {"img.product-image"},
				"link":         {"h4.sku-title a"},
			},
			SearchURLTemplate: "https://www.bestbuy.com/site/searchpage.jsp?st={query}&cp={page}",
			BaseURL:           "https://www.bestbuy.com",
			RateLimit:         2 * time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        false,
			AntiBotMeasures:   []string{"captcha"},
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},
		{
			Key:      "ebay",
			Name:     "eBay",
			Domain:   "ebay.com",
			Category: types.CategoryGeneral,
			Priority: types.PriorityHigh,
			Selectors: map[string][]string{
				"container":    {"li.s-item", "div.s-item__wrapper"},
				"title":        {"div.s-item__title span", "h3.s-item__title"},
				"price":        {"span.s-item__price"},
				"rating":       {"div.x-star-rating span.clipped"},
				"availability": {"span.s-item__quantity"},
				"image":        {"div.s-item__image-wrapper img", "img.s-item__image-img"},
				"link":         {"a.s-item__link"},
			},
			SearchURLTemplate: "https://www.ebay.com/sch/i.html?_nkw={query}&_pgn={page}",
			BaseURL:           "https://www.ebay.com",
			RateLimit:         time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        false,
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},

		// Tier 2
		{
			Key:      "costco",
			Name:     "Costco",
			Domain:   "costco.com",
			Category: types.CategoryWholesale,
			Priority: types.PriorityMedium,
			Selectors: map[string][]string{
				"container": {"div.product-tile-set", "div.product"},
				"title":     {"span.description a", "p.description a"},
				"price":     {"div.price", "span.price"},
				"rating":    {"div.ratings meta[itemprop='ratingValue']"},
				"image":     {"img.img-responsive"},
				"link":      {"span.description a"},
			},
			SearchURLTemplate: "https://www.costco.com/CatalogSearch?keyword={query}&currentPage={page}",
			BaseURL:           "https://www.costco.com",
			RateLimit:         3 * time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        true,
			AntiBotMeasures:   []string{"access denied"},
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},
		{
			Key:      "homedepot",
			Name:     "Home Depot",
			Domain:   "homedepot.com",
			Category: types.CategoryHomeImprovement,
			Priority: types.PriorityMedium,
			Selectors: map[string][]string{
				"container": {"div[data-testid='product-pod']", "div.product-pod"},
				"title":     {"span[data-testid='product-header'] span", "div.pod-plp__description a"},
				"price":     {"div[data-testid='price'] span", "div.price-format__main-price"},
				"rating":    {"span[data-testid='ratings'] span"},
				"image":     {"img[data-testid='product-image']"},
				"link":      {"a[data-testid='product-pod-link']", "div.pod-plp__description a"},
			},
			SearchURLTemplate: "https://www.homedepot.com/s/{query}?Nao={page}",
			BaseURL:           "https://www.homedepot.com",
			RateLimit:         2 * time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        true,
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},
		{
			Key:      "lowes",
			Name:     "Lowe's",
			Domain:   "lowes.com",
			Category: types.CategoryHomeImprovement,
			Priority: types.PriorityMedium,
			Selectors: map[string][]string{
				"container": {"div[data-selector='prd-item']", "div.plp-tile"},
				"title":     {"span.description-spn", "h3.art-pd-title"},
				"price":     {"div.main-price span", "span.art-pd-price"},
				"rating":    {"span.ratings-number"},
				"image":     {"img.plp-tile-img"},
				"link":      {"a.plp-tile-link", "a[data-selector='prd-link']"},
			},
			SearchURLTemplate: "https://www.lowes.com/search?searchTerm={query}&offset={page}",
			BaseURL:           "https://www.lowes.com",
			RateLimit:         2 * time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        true,
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},
		{
			Key:      "newegg",
			Name:     "Newegg",
			Domain:   "newegg.com",
			Category: types.CategoryElectronics,
			Priority: types.PriorityMedium,
			Selectors: map[string][]string{
				"container":    {"div.item-cell", "div.item-container"},
				"title":        {"a.item-title"},
				"price":        {"li.price-current"},
				"rating":       {"a.item-rating"},
				"availability": {"p.item-promo"},
				"image":        {"a.item-img img"},
				"link":         {"a.item-title"},
			},
			SearchURLTemplate: "https://www.newegg.com/p/pl?d={query}&page={page}",
			BaseURL:           "https://www.newegg.com",
			RateLimit:         time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        false,
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},
		{
			Key:      "macys",
			Name:     "Macy's",
			Domain:   "macys.com",
			Category: types.CategoryFashion,
			Priority: types.PriorityMedium,
			Selectors: map[string][]string{
				"container": {"div.productThumbnail", "li.productThumbnailItem"},
				"title":     {"div.productDescription a", "a.productDescLink"},
				"price":     {"div.prices span.discount", "span.regular"},
				"rating":    {"span.aggregate-rating"},
				"image":     {"img.thumbnailImage"},
				"link":      {"div.productDescription a", "a.productDescLink"},
			},
			SearchURLTemplate: "https://www.macys.com/shop/featured/{query}?page={page}",
			BaseURL:           "https://www.macys.com",
			RateLimit:         2 * time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        true,
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},
		{
			Key:      "overstock",
			Name:     "Overstock",
			Domain:   "overstock.com",
			Category: types.CategoryGeneral,
			Priority: types.PriorityMedium,
			Selectors: map[string][]string{
				"container": {"div.product-tile", "div[data-cy='product-tile']"},
				"title":     {"div.product-title", "a.product-link p"},
				"price":     {"span.monetary-price-value"},
				"rating":    {"span.rating-number"},
				"image":     {"img.product-img"},
				"link":      {"a.product-link"},
			},
			SearchURLTemplate: "https://www.overstock.com/search?keywords={query}&page={page}",
			BaseURL:           "https://www.overstock.com",
			RateLimit:         time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        false,
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},
		{
			Key:      "wayfair",
			Name:     "Wayfair",
			Domain:   "wayfair.com",
			Category: types.CategoryGeneral,
			Priority: types.PriorityMedium,
			Selectors: map[string][]string{
				"container": {"div[data-hb-id='Grid.Item']", "div.ProductCard"},
				"title":     {"h2[data-hb-id='Heading']", "div.ProductCard-name"},
				"price":     {"span[data-test-id='PriceDisplay']", "div.ProductCard-price"},
				"rating":    {"span.ReviewStars-reviews"},
				"image":     {"img[data-hb-id='Image']"},
				"link":      {"a[data-hb-id='Link']"},
			},
			SearchURLTemplate: "https://www.wayfair.com/keyword.php?keyword={query}&curpage={page}",
			BaseURL:           "https://www.wayfair.com",
			RateLimit:         2 * time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        true,
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},
		{
			Key:      "zappos",
			Name:     "Zappos",
			Domain:   "zappos.com",
			Category: types.CategoryFashion,
			Priority: types.PriorityMedium,
			Selectors: map[string][]string{
				"container": {"article[data-product-id]", "div.product"},
				"title":     {"p[itemprop='name']", "span.productName"},
				"price":     {"span[itemprop='price']", "span.productPrice"},
				"rating":    {"span[itemprop='ratingValue']"},
				"image":     {"meta[itemprop='image']", "img[itemprop='image']"},
				"link":      {"a[itemprop='url']"},
			},
			SearchURLTemplate: "https://www.zappos.com/search?term={query}&p={page}",
			BaseURL:           "https://www.zappos.com",
			RateLimit:         time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        false,
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},
		{
			Key:      "bhphoto",
			Name:     "B&H Photo",
			Domain:   "bhphotovideo.com",
			Category: types.CategorySpecialty,
			Priority: types.PriorityMedium,
			Selectors: map[string][]string{
				"container":    {"div[data-selenium='miniProductPage']"},
				"title":        {"span[data-selenium='miniProductPageProductName']"},
				"price":        {"span[data-selenium='uppedDecimalPriceFirst']"},
				"rating":       {"span[data-selenium='miniProductPageRating']"},
				"availability": {"span[data-selenium='stockStatus']"},
				"image":        {"img[data-selenium='miniProductPageImage']"},
				"link":         {"a[data-selenium='miniProductPageProductNameLink']"},
			},
			SearchURLTemplate: "https://www.bhphotovideo.com/c/search?q={query}&pn={page}",
			BaseURL:           "https://www.bhphotovideo.com",
			RateLimit:         time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        false,
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},

		// Tier 3
		{
			Key:      "nordstrom",
			Name:     "Nordstrom",
			Domain:   "nordstrom.com",
			Category: types.CategoryFashion,
			Priority: types.PriorityLow,
			Selectors: map[string][]string{
				"container": {"article.YbtJTc", "div.product-module"},
				"title":     {"h3.Gma2q", "h3.product-title"},
				"price":     {"span.qHz0a", "div.product-price"},
				"rating":    {"span._9WDtq"},
				"image":     {"img.h6oZV"},
				"link":      {"a.uhR9r", "a.product-link"},
			},
			SearchURLTemplate: "https://www.nordstrom.com/sr?keyword={query}&page={page}",
			BaseURL:           "https://www.nordstrom.com",
			RateLimit:         3 * time.Second,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			RequiresJS:        true,
			AntiBotMeasures:   []string{"captcha"},
			Currency:          "USD",
			Country:           "US",
			Status:            types.StatusActive,
		},
	}
}
