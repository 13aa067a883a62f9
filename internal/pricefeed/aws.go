package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/pricing"
	pricingtypes "github.com/aws/aws-sdk-go-v2/service/pricing/types"
)

const (
	// spotLookback bounds the DescribeSpotPriceHistory query window.
	spotLookback = time.Hour

	// onDemandTTL caches on-demand rates; they change on the order of
	// months, not minutes.
	onDemandTTL = 6 * time.Hour
)

// AWSProvider reads prices from the EC2 and Pricing APIs.
type AWSProvider struct {
	ec2Client     *ec2.Client
	pricingClient *pricing.Client
	region        string
	logger        *slog.Logger

	mu            sync.Mutex
	onDemandCache map[string]cachedRate
}

type cachedRate struct {
	price     float64
	fetchedAt time.Time
}

// NewAWSProvider builds a provider using the default credential chain.
func NewAWSProvider(ctx context.Context, region string, logger *slog.Logger) (*AWSProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AWSProvider{
		ec2Client: ec2.NewFromConfig(cfg),
		pricingClient: pricing.NewFromConfig(cfg, func(o *pricing.Options) {
			// The Pricing API is only served out of us-east-1.
			o.Region = "us-east-1"
		}),
		region:        region,
		logger:        logger,
		onDemandCache: make(map[string]cachedRate),
	}, nil
}

// SpotPrices queries recent spot history for the instance type and
// keeps the newest sample per availability zone.
func (p *AWSProvider) SpotPrices(ctx context.Context, instanceType string) ([]Observation, error) {
	out, err := p.ec2Client.DescribeSpotPriceHistory(ctx, &ec2.DescribeSpotPriceHistoryInput{
		InstanceTypes:       []ec2types.InstanceType{ec2types.InstanceType(instanceType)},
		StartTime:           aws.Time(time.Now().Add(-spotLookback)),
		ProductDescriptions: []string{"Linux/UNIX"},
		MaxResults:          aws.Int32(100),
	})
	if err != nil {
		return nil, fmt.Errorf("describe spot price history for %s: %w", instanceType, err)
	}

	// Newest entries come first; keep the first sample seen per zone.
	latest := make(map[string]Observation)
	for _, sp := range out.SpotPriceHistory {
		if sp.SpotPrice == nil || sp.AvailabilityZone == nil {
			continue
		}
		zone := *sp.AvailabilityZone
		if _, seen := latest[zone]; seen {
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(*sp.SpotPrice), 64)
		if err != nil || price <= 0 {
			continue
		}
		capturedAt := time.Now().UTC()
		if sp.Timestamp != nil {
			capturedAt = sp.Timestamp.UTC()
		}
		latest[zone] = Observation{
			PoolID:       PoolID(instanceType, zone),
			InstanceType: instanceType,
			Region:       p.region,
			Zone:         zone,
			Price:        price,
			CapturedAt:   capturedAt,
		}
	}

	obs := make([]Observation, 0, len(latest))
	for _, o := range latest {
		obs = append(obs, o)
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("no spot price history for %s in %s", instanceType, p.region)
	}
	return obs, nil
}

// OnDemandPrice fetches the hourly Linux on-demand rate, cached for
// onDemandTTL.
func (p *AWSProvider) OnDemandPrice(ctx context.Context, instanceType string) (float64, error) {
	p.mu.Lock()
	if c, ok := p.onDemandCache[instanceType]; ok && time.Since(c.fetchedAt) < onDemandTTL {
		p.mu.Unlock()
		return c.price, nil
	}
	p.mu.Unlock()

	out, err := p.pricingClient.GetProducts(ctx, &pricing.GetProductsInput{
		ServiceCode: aws.String("AmazonEC2"),
		Filters: []pricingtypes.Filter{
			termMatch("instanceType", instanceType),
			termMatch("operatingSystem", "Linux"),
			termMatch("preInstalledSw", "NA"),
			termMatch("tenancy", "Shared"),
			termMatch("capacitystatus", "Used"),
			termMatch("regionCode", p.region),
		},
		MaxResults: aws.Int32(1),
	})
	if err != nil {
		return 0, fmt.Errorf("get products for %s: %w", instanceType, err)
	}
	if len(out.PriceList) == 0 {
		return 0, fmt.Errorf("no on-demand pricing for %s in %s", instanceType, p.region)
	}

	price, err := extractHourlyUSD(out.PriceList[0])
	if err != nil {
		return 0, fmt.Errorf("parse pricing for %s: %w", instanceType, err)
	}

	p.mu.Lock()
	p.onDemandCache[instanceType] = cachedRate{price: price, fetchedAt: time.Now()}
	p.mu.Unlock()
	return price, nil
}

func termMatch(field, value string) pricingtypes.Filter {
	return pricingtypes.Filter{
		Type:  pricingtypes.FilterTypeTermMatch,
		Field: aws.String(field),
		Value: aws.String(value),
	}
}

// PoolID is the canonical pool identifier: instance type and zone.
func PoolID(instanceType, zone string) string {
	return instanceType + "/" + zone
}

// extractHourlyUSD walks the Pricing API's nested terms payload and
// returns the lowest positive USD rate found under OnDemand.
func extractHourlyUSD(priceList string) (float64, error) {
	var payload struct {
		Terms struct {
			OnDemand map[string]struct {
				PriceDimensions map[string]struct {
					PricePerUnit map[string]string `json:"pricePerUnit"`
				} `json:"priceDimensions"`
			} `json:"OnDemand"`
		} `json:"terms"`
	}
	if err := json.Unmarshal([]byte(priceList), &payload); err != nil {
		return 0, fmt.Errorf("decode pricing payload: %w", err)
	}

	best := 0.0
	for _, term := range payload.Terms.OnDemand {
		for _, dim := range term.PriceDimensions {
			usd, ok := dim.PricePerUnit["USD"]
			if !ok {
				continue
			}
			price, err := strconv.ParseFloat(strings.TrimSpace(usd), 64)
			if err != nil || price <= 0 {
				continue
			}
			if best == 0 || price < best {
				best = price
			}
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("no USD on-demand rate in pricing payload")
	}
	return best, nil
}
