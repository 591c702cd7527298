package rank

import (
	"sort"
	"strings"

	"postulamatic-engine/internal/domain"
)

// WeightedScorer blends a skill-overlap sub-score with a seniority-alignment
// sub-score, both normalized to [0,100]. Scoring is pure string work over
// its inputs: identical (resume, job) pairs always produce identical scores.
type WeightedScorer struct {
	SkillsWeight    int
	SeniorityWeight int
}

// skillVocab is the catalog of terms treated as skills when they appear in
// a posting. The resume's own skill list extends it at scoring time, so
// niche skills still count.
var skillVocab = []string{
	// languages
	"python", "java", "javascript", "typescript", "c++", "c#", "php", "ruby",
	"go", "golang", "rust", "kotlin", "swift", "sql",
	// frameworks
	"react", "angular", "vue", "django", "flask", "spring", "laravel",
	"rails", "express", "node", "node.js", ".net",
	// data stores
	"mysql", "postgresql", "postgres", "mongodb", "redis", "oracle", "sqlite",
	"elasticsearch",
	// cloud / devops
	"aws", "azure", "gcp", "docker", "kubernetes", "terraform", "linux",
	"ci/cd", "git",
	// mobile / misc
	"android", "ios", "react native", "flutter", "figma", "photoshop",
	"excel", "wordpress", "seo",
}

var seniorityLevels = []struct {
	level int
	any   []string
}{
	{1, []string{"junior", "jr.", "jr ", "trainee", "pasantía", "pasantia", "intern", "entry level", "sin experiencia"}},
	{2, []string{"semi senior", "semi-senior", "semisenior", "ssr", "mid-level", "mid level"}},
	{3, []string{"senior", "sr.", "sr ", "lead", "principal", "staff"}},
}

func (s WeightedScorer) Score(resume domain.Resume, job domain.JobPosting) domain.MatchResult {
	text := " " + strings.ToLower(CleanForMatch(job.Title+" "+job.Summary)) + " "

	skillsScore, matched, missing := s.skillsOverlap(resume.Skills, text)
	seniorityScore := s.seniorityAlignment(resume, text)

	ws, wn := s.SkillsWeight, s.SeniorityWeight
	if ws <= 0 && wn <= 0 {
		ws, wn = 70, 30
	}
	final := (skillsScore*ws + seniorityScore*wn) / (ws + wn)

	return domain.MatchResult{
		Score:          clamp(final),
		MatchedSkills:  matched,
		MissingSkills:  missing,
		SkillsScore:    clamp(skillsScore),
		SeniorityScore: clamp(seniorityScore),
	}
}

// skillsOverlap scores how much of the posting's skill vocabulary the
// resume covers. A posting that names no recognizable skills scores a
// neutral 50 rather than punishing the candidate for vague copy.
func (s WeightedScorer) skillsOverlap(resumeSkills []string, jobText string) (score int, matched, missing []string) {
	have := map[string]bool{}
	vocab := append([]string{}, skillVocab...)
	for _, sk := range resumeSkills {
		k := strings.ToLower(strings.TrimSpace(sk))
		if k == "" {
			continue
		}
		have[k] = true
		vocab = append(vocab, k)
	}

	jobSkills := map[string]bool{}
	for _, term := range vocab {
		if term == "" {
			continue
		}
		if containsTerm(jobText, term) {
			jobSkills[term] = true
		}
	}

	if len(jobSkills) == 0 {
		return 50, nil, nil
	}

	for term := range jobSkills {
		if have[term] {
			matched = append(matched, term)
		} else {
			missing = append(missing, term)
		}
	}
	sort.Strings(matched)
	sort.Strings(missing)

	return 100 * len(matched) / len(jobSkills), matched, missing
}

// seniorityAlignment compares the level the posting asks for against the
// level the resume reads as. Unknown on either side is neutral; adjacent
// levels half-credit; opposite ends zero.
func (s WeightedScorer) seniorityAlignment(resume domain.Resume, jobText string) int {
	jobLevel := detectSeniority(jobText)
	resumeLevel := detectSeniority(" " + strings.ToLower(resume.Highlights+" "+strings.Join(resume.Skills, " ")) + " ")

	if jobLevel == 0 || resumeLevel == 0 {
		return 50
	}
	switch diff := abs(jobLevel - resumeLevel); diff {
	case 0:
		return 100
	case 1:
		return 50
	default:
		return 0
	}
}

func detectSeniority(text string) int {
	// highest level mentioned wins: "junior to senior" reads as senior
	found := 0
	for _, lv := range seniorityLevels {
		for _, needle := range lv.any {
			if strings.Contains(text, needle) {
				if lv.level > found {
					found = lv.level
				}
				break
			}
		}
	}
	return found
}

// containsTerm does whole-word-ish matching so "go" does not fire inside
// "google" and "java" not inside "javascript". paddedText must start and
// end with a space.
func containsTerm(paddedText, term string) bool {
	idx := 0
	for {
		i := strings.Index(paddedText[idx:], term)
		if i < 0 {
			return false
		}
		i += idx
		before := paddedText[i-1]
		afterIdx := i + len(term)
		var after byte = ' '
		if afterIdx < len(paddedText) {
			after = paddedText[afterIdx]
		}
		if isBoundary(before) && isBoundary(after) {
			return true
		}
		idx = i + 1
	}
}

func isBoundary(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9':
		return false
	case b == '+', b == '#', b == '.': // keep c++, c#, node.js intact
		return false
	}
	return true
}

// CleanForMatch strips punctuation that would glue words together while
// keeping the symbols skills are spelled with. Sentence-ending periods go,
// "node.js" stays.
func CleanForMatch(s string) string {
	s = strings.ReplaceAll(s, ". ", " ")
	s = strings.TrimSuffix(s, ".")
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ',', ';', ':', '(', ')', '[', ']', '"', '\'', '!', '?':
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
