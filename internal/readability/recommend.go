// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package readability

import "fmt"

// Recommendation is one typed improvement suggestion.
type Recommendation struct {
	Type        string   `json:"type"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Suggestion  string   `json:"suggestion"`
	Impact      string   `json:"impact"`
	Examples    []string `json:"examples"`
}

// RecommendInput carries the metrics the recommender rules consume.
type RecommendInput struct {
	LIXScore            float64
	RIXScore            float64
	AvgSentenceLength   float64
	LongWordsPercentage float64
	UserContext         map[string]string
}

// Recommend derives an ordered list of improvement suggestions. Rules fire
// independently; when none fires, exactly one positive_feedback item is
// returned. Simplified mode suppresses the example lists for compact wire
// output on the typing path.
func Recommend(in RecommendInput, simplified bool) []Recommendation {
	recs := []Recommendation{}

	if in.AvgSentenceLength > 18 {
		impact := "medium"
		if in.AvgSentenceLength > 25 {
			impact = "high"
		}
		examples := []string{}
		if !simplified {
			examples = []string{
				"Før: 'Det er viktig å vurdere alle faktorene som påvirker resultatet, inkludert eksterne variabler som vær og tilgjengelighet av materialer, samt interne faktorer som gjennomføringskapasitet og kvalitetssikring.'",
				"Etter: 'Det er viktig å vurdere alle faktorene som påvirker resultatet. Dette inkluderer eksterne variabler som vær og tilgjengelighet av materialer. Interne faktorer som gjennomføringskapasitet og kvalitetssikring må også vurderes.'",
			}
		}
		recs = append(recs, Recommendation{
			Type:        "sentence_structure",
			Title:       "Kortere setninger",
			Description: fmt.Sprintf("Gjennomsnittlig setningslengde er %.1f ord, som er relativt høyt.", in.AvgSentenceLength),
			Suggestion:  "Del lange setninger i to eller flere kortere setninger for bedre forståelse.",
			Impact:      impact,
			Examples:    examples,
		})
	}

	if in.LongWordsPercentage > 25 {
		impact := "medium"
		if in.LongWordsPercentage > 35 {
			impact = "high"
		}
		examples := []string{}
		if !simplified {
			examples = []string{
				"Erstatt 'implementere' med 'bruke'",
				"Erstatt 'signifikant' med 'viktig'",
				"Erstatt 'kommunisere' med 'si fra'",
				"Erstatt 'funksjoner' med 'egenskaper'",
			}
		}
		recs = append(recs, Recommendation{
			Type:        "word_complexity",
			Title:       "Enklere ordvalg",
			Description: fmt.Sprintf("%.1f%% av ordene er lange (7+ bokstaver).", in.LongWordsPercentage),
			Suggestion:  "Bruk kortere og mer vanlige ord for å gjøre teksten mer tilgjengelig.",
			Impact:      impact,
			Examples:    examples,
		})
	}

	if in.LIXScore > 40 {
		styleExamples := []string{}
		flowExamples := []string{}
		if !simplified {
			styleExamples = []string{
				"Passiv: 'Beslutningen ble tatt av styret.'",
				"Aktiv: 'Styret tok beslutningen.'",
			}
			flowExamples = []string{
				"Legge til: 'derfor', 'fordi', 'likevel', 'dessuten'",
				"Eksempel: 'Han kom for sent. Han mistet bussen.' → 'Han kom for sent fordi han mistet bussen.'",
			}
		}
		recs = append(recs,
			Recommendation{
				Type:        "writing_style",
				Title:       "Aktivt språk",
				Description: "Passivt språk gjør teksten tyngre å lese.",
				Suggestion:  "Bruk aktiv form fremfor passiv form når mulig.",
				Impact:      "medium",
				Examples:    styleExamples,
			},
			Recommendation{
				Type:        "flow_improvement",
				Title:       "Bedre tekstflyt",
				Description: "Manglende bindeord kan gjøre teksten oppstykket.",
				Suggestion:  "Bruk bindeord for å skape sammenheng mellom setninger og avsnitt.",
				Impact:      "medium",
				Examples:    flowExamples,
			},
		)
	}

	if in.LIXScore > 50 {
		techExamples := []string{}
		structExamples := []string{}
		if !simplified {
			techExamples = []string{
				"Forklar begreper når de introduseres: 'Kognitiv dissonans (følelsen av ubehag når man holder motstridende overbevisninger) er et vanlig psykologisk fenomen.'",
				"Bruk enklere synonymer når mulig",
			}
			structExamples = []string{
				"Bruk overskrifter for å dele opp lange tekster",
				"Bruk punktlister for å presentere relatert informasjon",
				"Hold avsnitt under 4-5 setninger",
			}
		}
		recs = append(recs,
			Recommendation{
				Type:        "technical_language",
				Title:       "Fagbegreper",
				Description: "Høy LIX-score (over 50) tyder på mange fagbegreper.",
				Suggestion:  "Forklar eller erstatt fagterminologi når mulig.",
				Impact:      "high",
				Examples:    techExamples,
			},
			Recommendation{
				Type:        "structure_improvement",
				Title:       "Forbedre tekststruktur",
				Description: "Komplekse tekster trenger tydelig struktur.",
				Suggestion:  "Del teksten i kortere avsnitt med tydelige overskrifter og punktlister.",
				Impact:      "high",
				Examples:    structExamples,
			},
		)
	}

	if in.LIXScore > 45 {
		examples := []string{}
		if !simplified {
			examples = []string{
				"Bruk diagrammer for å vise sammenhenger",
				"Bruk tabeller for å organisere data",
				"Legg til illustrasjoner for å forklare prosesser",
			}
		}
		recs = append(recs, Recommendation{
			Type:        "visual_aids",
			Title:       "Visuelle hjelpemidler",
			Description: "Kompleks informasjon kan presenteres visuelt.",
			Suggestion:  "Inkluder tabeller, diagrammer eller illustrasjoner for å forklare komplekse konsepter.",
			Impact:      "medium",
			Examples:    examples,
		})
	}

	switch in.UserContext["purpose"] {
	case "education":
		if in.LIXScore > 35 {
			examples := []string{}
			if !simplified {
				examples = []string{
					"Legg til: 'For eksempel...' for å illustrere komplekse konsepter",
					"Bruk oppsummeringspunkter etter lengre avsnitt",
					"Inkluder visuelle hjelpemidler for å støtte teksten",
				}
			}
			recs = append(recs, Recommendation{
				Type:        "educational_content",
				Title:       "Tilpass for læring",
				Description: "Teksten kan være krevende for en utdanningskontekst.",
				Suggestion:  "Bruk pedagogiske virkemidler som eksempler, oppsummeringer og visuelle hjelpemidler.",
				Impact:      "high",
				Examples:    examples,
			})
		}
	case "business":
		if in.LIXScore > 45 {
			examples := []string{}
			if !simplified {
				examples = []string{
					"Start med hovedpoenget i hvert avsnitt",
					"Bruk kulepunkter for viktige elementer",
					"Unngå passive formuleringer: 'Rapporten ble utarbeidet' → 'Vi utarbeidet rapporten'",
				}
			}
			recs = append(recs, Recommendation{
				Type:        "business_communication",
				Title:       "Fokuser budskapet",
				Description: "Forretningskommunikasjon bør være klar og konsis.",
				Suggestion:  "Bruk aktiv stemme, fremhev nøkkelpunkter og unngå unødvendig jargong.",
				Impact:      "medium",
				Examples:    examples,
			})
		}
	}

	if in.RIXScore > 4.0 {
		examples := []string{}
		if !simplified {
			examples = []string{
				"Bruk kortere alternativer: 'anvende' → 'bruke'",
				"Varier mellom korte og lange ord for bedre rytme",
			}
		}
		recs = append(recs, Recommendation{
			Type:        "rix_recommendation",
			Title:       "Balansere ordlengde",
			Description: fmt.Sprintf("RIX-score på %.1f indikerer mange lange ord.", in.RIXScore),
			Suggestion:  "Reduser antall lange ord for å bedre flyten i teksten.",
			Impact:      "medium",
			Examples:    examples,
		})
	}

	if len(recs) == 0 {
		if in.LIXScore < 30 {
			recs = append(recs, Recommendation{
				Type:        "positive_feedback",
				Title:       "Utmerket lesbarhet",
				Description: fmt.Sprintf("Teksten har en LIX-score på %.1f, som indikerer svært god lesbarhet.", in.LIXScore),
				Suggestion:  "Teksten er allerede svært lettlest og tilgjengelig for de fleste lesere.",
				Impact:      "low",
				Examples:    []string{},
			})
		} else {
			recs = append(recs, Recommendation{
				Type:        "positive_feedback",
				Title:       "God lesbarhet",
				Description: fmt.Sprintf("Teksten har en LIX-score på %.1f, som indikerer god lesbarhet.", in.LIXScore),
				Suggestion:  "Teksten har god balanse mellom setningslengde og ordvalg.",
				Impact:      "low",
				Examples:    []string{},
			})
		}
	}

	return recs
}
