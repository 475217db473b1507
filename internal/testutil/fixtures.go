package testutil

// Resume is a small resume with one instance of most categories.
const Resume = `JANE A DOE
Software Engineer
jane.doe@example.com | (555) 123-4567 | linkedin.com/in/janedoe
221 Baker Street, Springfield

PROFESSIONAL SUMMARY
Backend engineer with 8 years of experience. DOB: 12/05/1990. SSN 123-45-6789.

WORK EXPERIENCE
Acme Corp, reporting to John Smith
`

// ResumeValues are substrings of Resume that detection must flag.
var ResumeValues = []string{
	"JANE A DOE",
	"jane.doe@example.com",
	"(555) 123-4567",
	"linkedin.com/in/janedoe",
	"221 Baker Street",
	"DOB: 12/05/1990",
	"123-45-6789",
	"John Smith",
}
